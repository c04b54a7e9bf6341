// Package textutil implements the script-aware sorting, phonetic bucketing
// and plural-form selection used by the author/series indexes and search,
// plus Cyrillic-to-Latin transliteration for download file names.
package textutil

import (
	"strings"
	"unicode"
)

// Script identifies which alphabet a rune belongs to for sort-key purposes.
type Script int

const (
	ScriptOther Script = iota
	ScriptCyrillic
	ScriptLatin
)

// ClassifyScript returns the Script bucket for r.
func ClassifyScript(r rune) Script {
	switch {
	case r >= 0x0400 && r <= 0x04FF, r >= 0x0500 && r <= 0x052F:
		// Cyrillic block plus Cyrillic Supplement (Ukrainian Є/І/Ї/Ґ live in
		// 0x0404/0x0406/0x0407/0x0490-91; Russian Ё is 0x0401/0x0451).
		return ScriptCyrillic
	case r < unicode.MaxLatin1 && !isMultDiv(r), unicode.Is(unicode.Latin, r):
		return ScriptLatin
	default:
		return ScriptOther
	}
}

// isMultDiv excludes U+00D7 (×) and U+00F7 (÷) from the Latin-1 Supplement
// range, which otherwise sit inside it but are not letters.
func isMultDiv(r rune) bool {
	return r == 0x00D7 || r == 0x00F7
}

// SortKey produces a (scriptPriority, lowercased value) key for a display
// string. When cyrillicFirst is true, Cyrillic strings sort before Latin
// ones; otherwise the reverse. Script-Other strings always sort last.
func SortKey(s string, cyrillicFirst bool) (priority int, key string) {
	class := ScriptOther
	for _, r := range s {
		if unicode.IsLetter(r) {
			class = ClassifyScript(r)
			break
		}
	}

	switch class {
	case ScriptCyrillic:
		if cyrillicFirst {
			priority = 0
		} else {
			priority = 1
		}
	case ScriptLatin:
		if cyrillicFirst {
			priority = 1
		} else {
			priority = 0
		}
	default:
		priority = 2
	}

	return priority, strings.ToLower(s)
}

// transliteration is the Cyrillic-to-Latin table used both for download
// file names and as the consonant/vowel source for Soundex below.
var transliteration = map[rune]string{
	'А': "A", 'Б': "B", 'В': "V", 'Г': "G", 'Д': "D", 'Е': "E", 'Ё': "Yo",
	'Ж': "Zh", 'З': "Z", 'И': "I", 'Й': "Y", 'К': "K", 'Л': "L", 'М': "M",
	'Н': "N", 'О': "O", 'П': "P", 'Р': "R", 'С': "S", 'Т': "T", 'У': "U",
	'Ф': "F", 'Х': "Kh", 'Ц': "Ts", 'Ч': "Ch", 'Ш': "Sh", 'Щ': "Shch",
	'Ъ': "\"", 'Ы': "'", 'Ь': "'", 'Э': "E", 'Ю': "Yu", 'Я': "Ya",
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "yo",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "kh", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "shch",
	'ъ': "\"", 'ы': "'", 'ь': "'", 'э': "e", 'ю': "yu", 'я': "ya",
}

// Transliterate converts Cyrillic characters in s to their Latin
// approximation, passing ASCII through unchanged. Used to build the
// "{author}_{title}.fb2" entry name inside downloaded ZIP containers.
func Transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII {
			if r != 0 {
				b.WriteRune(r)
			}
			continue
		}
		if repl, ok := transliteration[r]; ok {
			b.WriteString(repl)
			continue
		}
		// Unknown non-ASCII rune: drop it rather than emit an invalid byte.
	}
	return b.String()
}

// soundexGroups maps consonants to their classic Soundex digit. Cyrillic is
// transliterated to Latin first, so both scripts share this one table.
// Letters with no entry (vowels, h, w, y) add no digit and end a run of equal
// digits. Letters are coded in the order they appear; transposed letters
// from different groups give different codes.
var soundexGroups = map[byte]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

// Soundex computes a 6-character phonetic code for s. Non-ASCII input is
// first transliterated so Russian and English share one code table.
func Soundex(s string) string {
	ascii := strings.ToLower(Transliterate(s))

	var letters []byte
	for i := 0; i < len(ascii); i++ {
		c := ascii[i]
		if c >= 'a' && c <= 'z' {
			letters = append(letters, c)
		}
	}
	if len(letters) == 0 {
		return "000000"
	}

	code := make([]byte, 0, 6)
	code = append(code, upper(letters[0]))

	var lastGroup byte
	if g, ok := soundexGroups[letters[0]]; ok {
		lastGroup = g
	}

	for i := 1; i < len(letters) && len(code) < 6; i++ {
		g, ok := soundexGroups[letters[i]]
		if !ok {
			lastGroup = 0
			continue
		}
		if g != lastGroup {
			code = append(code, g)
		}
		lastGroup = g
	}

	for len(code) < 6 {
		code = append(code, '0')
	}
	return string(code)
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

// PluralForm selects among three Slavic plural forms (singular, few, many)
// for ru/uk/pl-style pluralization rules.
type PluralForm int

const (
	PluralSingular PluralForm = iota
	PluralFew
	PluralMany
)

// SelectPlural applies the ru/uk/pl cardinal rule to n.
func SelectPlural(n int) PluralForm {
	if n < 0 {
		n = -n
	}
	if n >= 1000 {
		return PluralMany
	}
	mod10 := n % 10
	mod100 := n % 100
	switch {
	case mod10 == 1 && mod100 != 11:
		return PluralSingular
	case mod10 >= 2 && mod10 <= 4 && !(mod100 >= 12 && mod100 <= 14):
		return PluralFew
	default:
		return PluralMany
	}
}
