package utils

import "testing"

func TestGenerateShareToken(t *testing.T) {
	token, err := GenerateShareToken()
	if err != nil {
		t.Fatalf("生成令牌失败: %v", err)
	}
	// 32 字节经 base64url 无填充编码后固定 43 个字符
	if len(token) != 43 {
		t.Errorf("令牌长度 = %d, 期望 43", len(token))
	}
	for _, r := range token {
		if r == '+' || r == '/' || r == '=' {
			t.Errorf("令牌包含非 URL 安全字符: %q", r)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := GenerateShareToken()
		if err != nil {
			t.Fatalf("生成令牌失败: %v", err)
		}
		if seen[tok] {
			t.Fatal("生成了重复的令牌")
		}
		seen[tok] = true
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("哈希密码失败: %v", err)
	}
	if hash == "s3cret" {
		t.Error("哈希结果不应等于明文")
	}
	if !CheckPasswordHash("s3cret", hash) {
		t.Error("正确密码应通过校验")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Error("错误密码不应通过校验")
	}
}
