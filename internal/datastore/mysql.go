package datastore

import (
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/voterimport/internal/conf"
)

// mysqlDSN builds the connection string. Devanagari text needs utf8mb4.
func mysqlDSN(settings conf.ServerSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = settings.Username
	cfg.Passwd = settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(settings.Host, settings.Port)
	cfg.DBName = settings.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

func openMySQL(settings conf.ServerSettings, log gormlogger.Interface) (*gorm.DB, string, error) {
	target := fmt.Sprintf("%s/%s", net.JoinHostPort(settings.Host, settings.Port), settings.Database)

	db, err := gorm.Open(mysql.Open(mysqlDSN(settings)), &gorm.Config{Logger: log})
	if err != nil {
		return nil, target, fmt.Errorf("failed to open MySQL database: %w", err)
	}
	return db, target, nil
}
