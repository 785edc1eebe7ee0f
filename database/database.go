package database

import (
	"errors"
	"fmt"

	"taskflow/config"
	"taskflow/logger"
	"taskflow/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var DB *gorm.DB

var log = logger.NewLogger("database")

func Init(cfg *config.Config) error {
	level := gormlogger.Info
	if cfg.IsProduction() {
		level = gormlogger.Warn
	}

	var err error
	DB, err = gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return err
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	if err := Migrate(sqlDB); err != nil {
		return err
	}

	if err := seedDefaultAdmin(DB); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := seedSystemSettings(DB); err != nil {
		return fmt.Errorf("seed system settings: %w", err)
	}

	return nil
}

func seedDefaultAdmin(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.User{}).Where("username = ?", "admin").Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := models.User{
		Email:        "admin@taskflow.local",
		Username:     "admin",
		FullName:     "Administrator",
		PasswordHash: string(hashedPassword),
		Role:         models.RoleAdmin,
		IsActive:     true,
	}

	if err := db.Create(&admin).Error; err != nil {
		return err
	}

	log.Info("Default admin user created", "username", "admin")
	return nil
}

// DefaultSystemSettings are inserted once; admins edit them afterwards.
var DefaultSystemSettings = []models.SystemSetting{
	{Key: "app_name", Value: "Taskflow", Description: "Display name of the application", IsPublic: true},
	{Key: "max_upload_mb", Value: "50", Description: "Maximum upload size in megabytes", IsPublic: true},
	{Key: "allow_registration", Value: "true", Description: "Whether new users may self-register", IsPublic: true},
	{Key: "default_task_priority", Value: string(models.PriorityMedium), Description: "Priority given to tasks created without one", IsPublic: false},
}

func seedSystemSettings(db *gorm.DB) error {
	for _, setting := range DefaultSystemSettings {
		var existing models.SystemSetting
		err := db.Where("key = ?", setting.Key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		s := setting
		if err := db.Create(&s).Error; err != nil {
			return err
		}
	}
	return nil
}

func GetDB() *gorm.DB {
	return DB
}
