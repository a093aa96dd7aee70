package conversion

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	firstCapRE = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	allCapRE   = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// ToSnakeCase converts CamelCase slot names to snake_case ("PickUpDate" -> "pick_up_date").
// Names already in snake_case are returned lower-cased and otherwise unchanged.
func ToSnakeCase(name string) string {
	s := firstCapRE.ReplaceAllString(name, `${1}_${2}`)
	return strings.ToLower(allCapRE.ReplaceAllString(s, `${1}_${2}`))
}

// ToCamelCase converts snake_case names to CamelCase ("pick_up_date" -> "PickUpDate").
func ToCamelCase(name string) string {
	title := cases.Title(language.Und)
	var b strings.Builder
	for _, part := range strings.Split(name, "_") {
		b.WriteString(title.String(part))
	}
	return b.String()
}

var numberWords = map[int]string{
	0: "zero", 1: "one", 2: "two", 3: "three", 4: "four", 5: "five",
	6: "six", 7: "seven", 8: "eight", 9: "nine", 10: "ten",
	11: "eleven", 12: "twelve", 13: "thirteen", 14: "fourteen", 15: "fifteen",
	16: "sixteen", 17: "seventeen", 18: "eighteen", 19: "nineteen",
	20: "twenty", 30: "thirty", 40: "forty", 50: "fifty",
	60: "sixty", 70: "seventy", 80: "eighty", 90: "ninety",
}

// NumberToWords spells n in lower-case English words. Supported range is [0..99].
func NumberToWords(n int) (string, error) {
	if w, ok := numberWords[n]; ok {
		return w, nil
	}
	if n < 0 || n > 99 {
		return "", fmt.Errorf("number %d out of range, valid range [0..99]", n)
	}
	return numberWords[n-n%10] + " " + numberWords[n%10], nil
}
