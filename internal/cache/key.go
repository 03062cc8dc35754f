package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Key namespaces. Separate namespaces keep generation, content, and
// template-compilation entries independently invalidatable.
const (
	NamespaceGeneration = "gen"
	NamespaceContent    = "content"
	NamespaceTemplate   = "tmpl"
)

// Key builds a deterministic namespaced cache key from the given fields.
// Fields are length-prefix separated before hashing so that ("ab","c") and
// ("a","bc") never collide.
func Key(namespace string, fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

// RequestKey builds the key for a generation request from everything that
// affects the response: prompt, model, temperature, max tokens, system
// prompt, and the schema when structured output is requested.
func RequestKey(namespace, prompt, model string, temperature float64, maxTokens int, systemPrompt, schema string) string {
	return Key(namespace,
		prompt,
		model,
		strconv.FormatFloat(temperature, 'f', -1, 64),
		strconv.Itoa(maxTokens),
		systemPrompt,
		schema,
	)
}
