package knowledge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestQueryMatchesKeywords(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "wallets", Content: "one wallet per user", Keywords: []string{"wallet", "钱包"}},
		{Title: "sniping", Content: "auto-buy every mint", Keywords: []string{"snipe"}},
		{Title: "general", Content: "always on"},
	}, 3)

	results := provider.Query("how do I create a WALLET?")
	if len(results) != 2 {
		t.Fatalf("命中数量不符: %+v", results)
	}
	if results[0].Title != "wallets" || results[1].Title != "general" {
		t.Fatalf("命中内容不符: %+v", results)
	}

	// 没有关键词的条目对任何消息都命中。
	results = provider.Query("unrelated")
	if len(results) != 1 || results[0].Title != "general" {
		t.Fatalf("兜底条目不符: %+v", results)
	}
}

func TestQueryHonorsMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Snippet{
		{Title: "a"}, {Title: "b"}, {Title: "c"},
	}, 2)
	results := provider.Query("anything")
	if len(results) != 2 {
		t.Fatalf("应截断到 2 条: %+v", results)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	content := `[{"title":"wallets","content":"one per user","keywords":["wallet"]}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写知识库失败: %v", err)
	}

	provider, err := LoadStaticProvider(path, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := provider.Query("my wallet"); len(got) != 1 {
		t.Fatalf("加载后的检索不符: %+v", got)
	}

	if _, err := LoadStaticProvider("", 3); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := LoadStaticProvider(filepath.Join(dir, "missing.json"), 3); err == nil {
		t.Fatal("缺失文件应报错")
	}
}
