package auth

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt 代价因子与旧系统保持一致。
const passwordHashCost = 12

// HashPassword 使用 bcrypt 生成密码哈希，仅产出原生版本标记。
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPasswordHash 校验密码是否匹配哈希。
// 旧系统产出的 $2y$ 哈希与原生标记算法相同，校验前统一归一化版本标记。
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(normalizeHashMarker(hash)), []byte(password)) == nil
}

func normalizeHashMarker(hash string) string {
	if strings.HasPrefix(hash, "$2y$") {
		return "$2b$" + hash[len("$2y$"):]
	}
	return hash
}
