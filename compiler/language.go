package compiler

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Language selects which grammar the compiler accepts.
type Language int

const (
	LangLoop  Language = iota // primitive recursive: loop, if, assignment
	LangWhile                 // partial recursive: while, if, assignment
	LangGoto                  // numbered lines with if-goto jumps
)

var languageNames = map[Language]string{
	LangLoop:  "LOOP",
	LangWhile: "WHILE",
	LangGoto:  "GOTO",
}

func (l Language) String() string {
	if name, ok := languageNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Language(%d)", int(l))
}

// Languages returns all languages in declaration order.
func Languages() []Language {
	return []Language{LangLoop, LangWhile, LangGoto}
}

// ParseLanguage parses a language name case-insensitively.
func ParseLanguage(s string) (Language, error) {
	for l, name := range languageNames {
		if strings.EqualFold(s, name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown language %q (want loop, while or goto)", s)
}

// Extension returns the conventional file extension for the language.
func (l Language) Extension() string {
	return "." + strings.ToLower(l.String())
}

// LanguageForPath derives the language from a file name extension such as
// "fact.loop". It reports false if the extension is not recognized.
func LanguageForPath(path string) (Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, l := range Languages() {
		if ext == l.Extension() {
			return l, true
		}
	}
	return 0, false
}

// MarshalText encodes the language as its lower-case name.
func (l Language) MarshalText() ([]byte, error) {
	if _, ok := languageNames[l]; !ok {
		return nil, fmt.Errorf("invalid language %d", int(l))
	}
	return []byte(strings.ToLower(l.String())), nil
}

// UnmarshalText decodes a language name.
func (l *Language) UnmarshalText(text []byte) error {
	parsed, err := ParseLanguage(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
