package inits

import (
	"log"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

// ConnectToDB opens the postgres connection used by the user directory and
// the discussion board. Live session state never touches the database.
func ConnectToDB() {
	dsn := viper.GetString("db.dsn")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
}
