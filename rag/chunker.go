package rag

// ChunkerConfig 分块配置。
type ChunkerConfig struct {
	// Size 每块最大字符数（按 rune 计）
	Size int
	// Overlap 相邻块的重叠字符数
	Overlap int
}

// DefaultChunkerConfig 默认分块配置。
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{Size: 1000, Overlap: 200}
}

func (c ChunkerConfig) normalize() ChunkerConfig {
	if c.Size <= 0 {
		c.Size = 1000
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.Overlap >= c.Size {
		c.Overlap = c.Size / 2
	}
	return c
}

// SplitText 将文本切为固定大小、带重叠的分块。
// 按 rune 切分，不会拆断多字节字符；空文本返回 nil。
func SplitText(text string, cfg ChunkerConfig) []string {
	cfg = cfg.normalize()

	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := cfg.Size - cfg.Overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + cfg.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
