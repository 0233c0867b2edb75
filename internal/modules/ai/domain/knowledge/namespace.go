package knowledge

import (
	"fmt"
	"regexp"
	"strings"
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_\-.:]{1,64}$`)

// NamespaceFor 由 chatbot id 推导向量命名空间。
// 所有写入、检索、删除都必须经过这里，namespace 即隔离边界。
func NamespaceFor(chatbotID string) (string, error) {
	ns := strings.TrimSpace(chatbotID)
	if ns == "" {
		return "", ErrEmptyNamespace
	}
	if !namespacePattern.MatchString(ns) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return ns, nil
}

// ChunkVectorID 向量 id 形如 "{knowledgeId}-chunk-{index}"，重复处理同一条目会覆盖同 id
func ChunkVectorID(knowledgeID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", knowledgeID, index)
}

// ChunkVectorIDs 生成 [from, to) 区间内的向量 id
func ChunkVectorIDs(knowledgeID string, from, to int) []string {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return nil
	}
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, ChunkVectorID(knowledgeID, i))
	}
	return ids
}
