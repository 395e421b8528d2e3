package conversation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "Feelan-Chain/internal/errors"
	"Feelan-Chain/internal/llm"
)

func TestFileStoreLoadMissingReturnsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	doc, err := store.Load(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if len(doc.Conversations) != 0 || doc.Version != 0 {
		t.Fatalf("缺失用户应返回空文档: %+v", doc)
	}
}

func TestFileStoreLoadCorruptBlobReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "0xabc_conversations.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("写入坏档失败: %v", err)
	}

	doc, err := store.Load(ctx, "0xabc")
	if err != nil {
		t.Fatalf("坏档不应上抛错误: %v", err)
	}
	if len(doc.Conversations) != 0 || doc.Version != 0 {
		t.Fatalf("坏档应按空文档处理: %+v", doc)
	}

	// 空文档可以直接覆盖坏档。
	doc.Upsert(Conversation{ID: "c1"}, llm.Message{Role: llm.RoleFrontendUser, Content: "hi"})
	if err := store.Save(ctx, "0xabc", doc); err != nil {
		t.Fatalf("覆盖坏档失败: %v", err)
	}
	reloaded, err := store.Load(ctx, "0xabc")
	if err != nil {
		t.Fatalf("重读失败: %v", err)
	}
	if reloaded.Find("c1") == nil {
		t.Fatalf("覆盖后内容不符: %+v", reloaded)
	}
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	doc, _ := store.Load(ctx, "0xabc")
	doc.Upsert(Conversation{ID: "c1", UserID: "0xabc", Name: "First"},
		llm.Message{Role: llm.RoleFrontendUser, Content: "hi"},
		llm.Message{Role: llm.RoleFrontendAssistant, Content: "hello"},
	)
	if err := store.Save(ctx, "0xabc", doc); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("保存后版本应为 1, 实际 %d", doc.Version)
	}

	reloaded, err := store.Load(ctx, "0xabc")
	if err != nil {
		t.Fatalf("重读失败: %v", err)
	}
	conv := reloaded.Find("c1")
	if conv == nil || len(conv.Messages) != 2 || conv.Name != "First" {
		t.Fatalf("重读内容不符: %+v", reloaded)
	}
	if reloaded.Version != 1 {
		t.Fatalf("重读版本不符: %d", reloaded.Version)
	}
}

func TestFileStoreStaleVersionConflicts(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	first, _ := store.Load(ctx, "0xabc")
	second, _ := store.Load(ctx, "0xabc")

	first.Upsert(Conversation{ID: "c1"}, llm.Message{Role: llm.RoleFrontendUser, Content: "hi"})
	if err := store.Save(ctx, "0xabc", first); err != nil {
		t.Fatalf("首次保存失败: %v", err)
	}

	second.Upsert(Conversation{ID: "c2"}, llm.Message{Role: llm.RoleFrontendUser, Content: "bye"})
	err = store.Save(ctx, "0xabc", second)
	if err == nil {
		t.Fatal("过期版本保存应失败")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("期望 CodeConflict, 实际 %s", xerrors.CodeOf(err))
	}
}

func TestFileStoreSanitizesUserID(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	doc, _ := store.Load(ctx, "../evil")
	if err := store.Save(ctx, "../evil", doc); err != nil {
		t.Fatalf("保存失败: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("读目录失败: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), "/") || strings.Contains(entry.Name(), "..") {
			t.Fatalf("文件名应被清洗: %s", entry.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("期望单个文档文件, 实际 %d", len(entries))
	}
}

func TestApplyRetriesOnConflict(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	ctx := context.Background()

	interfered := false
	doc, err := Apply(ctx, store, "0xabc", func(doc *UserDocument) error {
		// 第一次读改写之间模拟并发写入，强制一次版本冲突。
		if !interfered {
			interfered = true
			other, _ := store.Load(ctx, "0xabc")
			other.Upsert(Conversation{ID: "other"}, llm.Message{Role: llm.RoleFrontendUser, Content: "x"})
			if err := store.Save(ctx, "0xabc", other); err != nil {
				t.Fatalf("干扰写入失败: %v", err)
			}
		}
		doc.Upsert(Conversation{ID: "mine"}, llm.Message{Role: llm.RoleFrontendUser, Content: "y"})
		return nil
	})
	if err != nil {
		t.Fatalf("冲突后重试应成功: %v", err)
	}
	if doc.Find("mine") == nil || doc.Find("other") == nil {
		t.Fatalf("重试应在最新文档上生效: %+v", doc)
	}
}

func TestUpsertDoesNotDuplicateConversations(t *testing.T) {
	doc := &UserDocument{}
	for i := 0; i < 3; i++ {
		doc.Upsert(Conversation{ID: "c1", Name: "First"},
			llm.Message{Role: llm.RoleFrontendUser, Content: "m"})
	}
	if len(doc.Conversations) != 1 {
		t.Fatalf("同一会话不应重复创建, 实际 %d", len(doc.Conversations))
	}
	if len(doc.Conversations[0].Messages) != 3 {
		t.Fatalf("期望三条消息, 实际 %d", len(doc.Conversations[0].Messages))
	}
}

func TestUpdateMetaUnknownConversation(t *testing.T) {
	doc := &UserDocument{}
	name := "renamed"
	err := doc.UpdateMeta("missing", MetaUpdate{Name: &name})
	if err == nil {
		t.Fatal("未知会话应报错")
	}
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("期望 CodeNotFound, 实际 %s", xerrors.CodeOf(err))
	}
}

func TestUpdateMetaAppliesOnlySetFields(t *testing.T) {
	doc := &UserDocument{Conversations: []Conversation{{ID: "c1", Name: "old", IsNFT: false}}}
	isNFT := true
	if err := doc.UpdateMeta("c1", MetaUpdate{IsNFT: &isNFT}); err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	conv := doc.Find("c1")
	if !conv.IsNFT {
		t.Fatal("IsNFT 应被更新")
	}
	if conv.Name != "old" {
		t.Fatalf("未设置的字段不应改动: %q", conv.Name)
	}
}
