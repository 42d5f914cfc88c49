package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"gorm.io/gorm"

	"jobport/internal/auth"
	"jobport/internal/config"
	"jobport/internal/database"
)

// 创建初始管理员账号。密码随机生成并只打印一次。
func main() {
	var (
		name  = flag.String("name", "", "管理员姓名（必填）")
		phone = flag.String("phone", "", "管理员手机号（必填，全局唯一）")
		email = flag.String("email", "", "管理员邮箱（必填，全局唯一）")
	)
	flag.Parse()

	adminName := strings.TrimSpace(*name)
	adminPhone := strings.TrimSpace(*phone)
	adminEmail := strings.TrimSpace(*email)
	if adminName == "" || adminPhone == "" || adminEmail == "" {
		log.Fatal("missing required flags: --name, --phone, --email")
	}

	cfg := config.MustLoad()

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	if err := db.AutoMigrate(&database.User{}); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	var existing database.User
	switch err := db.Where("phone = ? OR email = ?", adminPhone, adminEmail).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user with phone %q or email %q already exists", adminPhone, adminEmail)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Name:     adminName,
		Phone:    adminPhone,
		Email:    adminEmail,
		Password: hashed,
		Role:     database.RoleAdmin,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("已创建初始管理员账号：\n")
	fmt.Printf("手机号: %s\n", adminPhone)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
