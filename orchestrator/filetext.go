// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinFileTextRunes is the length at which cleaned file text counts as
// meaningful.
const MinFileTextRunes = 20

const fileHintRunes = 500

var (
	fileHeaderRe = regexp.MustCompile(`(?im)^###\s*(?:file|文件)\s*[:：].*$`)
	separatorRe  = regexp.MustCompile(`(?m)^-{3,}\s*$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Query keywords that mark a request as being about an uploaded file.
var fileKeywords = []string{
	"file", "upload", "attachment", "attached", "document", "pdf", "docx", "xlsx", "csv", "txt",
	"文件", "上传", "附件", "文档", "根据文件", "解析这个文件", "读取文件", "总结文件", "分析文件",
}

// Query keywords that ask for external or fresh information.
var externalInfoKeywords = []string{
	"latest", "current", "today", "real-time", "realtime", "internet", "web", "search",
	"official", "standard", "cve", "news",
	"最新", "实时", "今日", "现在", "外部", "联网", "搜索", "官网", "文档", "标准", "法规", "新闻", "公开资料",
}

// CleanFileText strips file headers and separator lines and collapses
// whitespace.
func CleanFileText(raw string) string {
	if raw == "" {
		return ""
	}
	text := fileHeaderRe.ReplaceAllString(raw, "")
	text = separatorRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// IsMeaningful reports whether cleaned file text is long enough to analyze.
func IsMeaningful(cleaned string) bool {
	return utf8.RuneCountInString(cleaned) >= MinFileTextRunes
}

// IsFileRelatedQuery reports whether query refers to an uploaded file.
func IsFileRelatedQuery(query string) bool {
	return containsAny(query, fileKeywords)
}

// NeedsExternalInfo reports whether query explicitly asks for external or
// fresh information.
func NeedsExternalInfo(query string) bool {
	return containsAny(query, externalInfoKeywords)
}

func fileHint(cleaned string) string {
	if utf8.RuneCountInString(cleaned) <= fileHintRunes {
		return cleaned
	}
	return string([]rune(cleaned)[:fileHintRunes])
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
