// Package summary 定义三视角 AI 摘要及其缓存键。
package summary

import (
	"strconv"
	"unicode/utf16"
)

// KeyPrefix 缓存键的命名空间前缀。
const KeyPrefix = "summary_"

// Unavailable 生成失败时每个视角使用的占位文本。
const Unavailable = "Summary temporarily unavailable."

// Persona 摘要视角。
type Persona string

const (
	Dev     Persona = "dev"
	Design  Persona = "design"
	Product Persona = "product"
)

// Personas 按固定顺序列出全部视角。
var Personas = []Persona{Dev, Design, Product}

// Summary 一篇文章的三视角摘要。三个字段必须同时存在。
type Summary struct {
	Dev     string `json:"dev"`
	Design  string `json:"design"`
	Product string `json:"product"`
}

// Complete 判断三个视角是否都有内容。
func (s Summary) Complete() bool {
	return s.Dev != "" && s.Design != "" && s.Product != ""
}

// Get 返回指定视角的文本。
func (s Summary) Get(p Persona) string {
	switch p {
	case Dev:
		return s.Dev
	case Design:
		return s.Design
	case Product:
		return s.Product
	}
	return ""
}

// Set 设置指定视角的文本，未知视角忽略。
func (s *Summary) Set(p Persona, text string) {
	switch p {
	case Dev:
		s.Dev = text
	case Design:
		s.Design = text
	case Product:
		s.Product = text
	}
}

// Placeholder 返回三视角均为占位文本的摘要。
func Placeholder() Summary {
	return Summary{Dev: Unavailable, Design: Unavailable, Product: Unavailable}
}

// ComputeKey 由标题和描述计算确定性的缓存键。
//
// 对 "title|description" 的 UTF-16 码元做 h = h*31 + c 滚动哈希（int32 溢出回绕），
// 键为前缀加哈希绝对值。不同输入可能碰撞，碰撞只会导致摘要被复用。
func ComputeKey(title, description string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(title + "|" + description)) {
		h = h*31 + int32(c)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return KeyPrefix + strconv.FormatInt(abs, 10)
}
