package report

import (
	"fmt"
	"log"
	"os"
	"time"

	"docportal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func mustDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set in env")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	return gdb
}

// RunReport prints a month-bounded document report for the user with the
// given email (month in YYYY-MM) and optionally lists matching rows.
func RunReport(email, month string, list bool) {
	gdb := mustDBFromEnv()

	var user models.User
	if err := gdb.Where("email = ?", email).First(&user).Error; err != nil {
		log.Fatalf("user not found: %v", err)
	}

	t, err := time.Parse("2006-01", month)
	if err != nil {
		log.Fatalf("invalid month format, expected YYYY-MM: %v", err)
	}
	year := t.Format("2006")
	mm := t.Format("01")

	var docCnt, unreadCnt, noteCnt int64
	if err := gdb.Model(&models.Document{}).
		Where("user_id = ? AND year = ? AND month = ?", user.ID, year, mm).
		Count(&docCnt).Error; err != nil {
		log.Fatalf("count documents failed: %v", err)
	}
	if err := gdb.Model(&models.Document{}).
		Where("user_id = ? AND year = ? AND month = ? AND status = ?", user.ID, year, mm, models.StatusUnread).
		Count(&unreadCnt).Error; err != nil {
		log.Fatalf("count unread failed: %v", err)
	}
	if err := gdb.Model(&models.Note{}).
		Joins("JOIN documents ON documents.id = notes.document_id").
		Where("documents.user_id = ? AND documents.year = ? AND documents.month = ?", user.ID, year, mm).
		Count(&noteCnt).Error; err != nil {
		log.Fatalf("count notes failed: %v", err)
	}

	fmt.Printf("Report for user=%s month=%s:\n", user.Email, month)
	fmt.Printf("  documents=%d unread=%d notes=%d\n", docCnt, unreadCnt, noteCnt)

	if list {
		var rows []models.Document
		if err := gdb.Where("user_id = ? AND year = ? AND month = ?", user.ID, year, mm).
			Order("created_at").Find(&rows).Error; err != nil {
			log.Fatalf("fetch rows failed: %v", err)
		}
		for _, r := range rows {
			fmt.Printf("%s|%s|%s|%s|%s\n", r.ID, r.Name, r.Type, r.Status, r.CreatedAt.Format(time.RFC3339))
		}
	}
}
