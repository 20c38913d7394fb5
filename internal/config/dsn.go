package config

import (
	"net"
	neturl "net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

func defaultDBPort(driver string) int {
	if driver == DriverPostgres {
		return 5432
	}
	return 3306
}

// DSNValue returns the explicit DSN or builds one for the configured driver.
func (c DatabaseConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}
	port := c.Port
	if port == 0 {
		port = defaultDBPort(c.Driver)
	}
	if c.Driver == DriverPostgres {
		return c.postgresDSN(port)
	}
	return c.mysqlDSN(port)
}

// mysqlDSN formats the connection with the driver's own config type.
func (c DatabaseConfig) mysqlDSN(port int) string {
	mc := mysqldriver.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	mc.DBName = c.Name
	mc.ParseTime = true
	if loc, err := time.LoadLocation(c.Loc); err == nil {
		mc.Loc = loc
	}
	mc.Params = map[string]string{}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			mc.Params[k] = v
		}
	}
	if _, ok := mc.Params["charset"]; !ok && c.Charset != "" {
		mc.Params["charset"] = c.Charset
	}
	return mc.FormatDSN()
}

// postgresDSN builds a libpq key/value string, which pgx accepts.
func (c DatabaseConfig) postgresDSN(port int) string {
	kv := map[string]string{
		"host":    c.Host,
		"port":    strconv.Itoa(port),
		"user":    c.User,
		"dbname":  c.Name,
		"sslmode": c.SSLMode,
	}
	if c.Password != "" {
		kv["password"] = c.Password
	}
	if c.Loc != "" {
		kv["TimeZone"] = c.Loc
	}
	for key, value := range c.Params {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			kv[k] = v
		}
	}

	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteLibpq(kv[k])
	}
	return strings.Join(parts, " ")
}

func quoteLibpq(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// URLValue returns the explicit URL or builds a redis:// URL from parts.
func (c RedisConfig) URLValue() string {
	if v := strings.TrimSpace(c.URL); v != "" {
		if !strings.Contains(v, "://") {
			v = "redis://" + v
		}
		return v
	}

	scheme := "redis"
	if c.TLS {
		scheme = "rediss"
	}
	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + strconv.Itoa(c.DB),
	}
	switch {
	case c.Username != "" && c.Password != "":
		u.User = neturl.UserPassword(c.Username, c.Password)
	case c.Username != "":
		u.User = neturl.User(c.Username)
	case c.Password != "":
		u.User = neturl.UserPassword("", c.Password)
	}
	return u.String()
}
