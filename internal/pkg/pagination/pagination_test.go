package pagination

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID int `gorm:"primaryKey"`
}

func TestFromContextClamps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]Query{
		"/":                    {Page: 1, Size: 20},
		"/?page=3&size=5":      {Page: 3, Size: 5},
		"/?page=-1&size=1000":  {Page: 1, Size: 100},
		"/?page=abc&size=zero": {Page: 1, Size: 20},
	}
	for target, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", target, nil)
		if got := FromContext(c); got != want {
			t.Fatalf("%s: got %+v, want %+v", target, got, want)
		}
	}
}

func TestPaginate(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&row{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for i := 1; i <= 7; i++ {
		db.Create(&row{ID: i})
	}

	var items []row
	pag, err := Paginate(db.Model(&row{}).Order("id ASC"), Query{Page: 2, Size: 3}, &items)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if pag.Total != 7 || pag.TotalPage != 3 || !pag.HasNextPage {
		t.Fatalf("unexpected pagination %+v", pag)
	}
	if len(items) != 3 || items[0].ID != 4 {
		t.Fatalf("unexpected page %+v", items)
	}
}
