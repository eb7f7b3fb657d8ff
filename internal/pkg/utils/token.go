package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// ShareTokenBytes 分享令牌的随机字节数，256 位熵
const ShareTokenBytes = 32

// GenerateShareToken 从加密安全随机源生成分享令牌
// 32 字节经 base64 RawURL 编码后是定长 43 字符，可直接用在 URL 中
func GenerateShareToken() (string, error) {
	buf := make([]byte, ShareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("读取随机源失败: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
