package datastore

import (
	"fmt"
	"net"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/voterimport/internal/conf"
)

func postgresDSN(settings conf.ServerSettings) string {
	sslMode := settings.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + settings.Host,
		"port=" + settings.Port,
		"user=" + settings.Username,
		"password=" + settings.Password,
		"dbname=" + settings.Database,
		"sslmode=" + sslMode,
		"TimeZone=UTC",
	}
	return strings.Join(parts, " ")
}

func openPostgres(settings conf.ServerSettings, log gormlogger.Interface) (*gorm.DB, string, error) {
	target := fmt.Sprintf("%s/%s", net.JoinHostPort(settings.Host, settings.Port), settings.Database)

	db, err := gorm.Open(postgres.Open(postgresDSN(settings)), &gorm.Config{Logger: log})
	if err != nil {
		return nil, target, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	return db, target, nil
}
