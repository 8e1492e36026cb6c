package resolver

import "fmt"

// colorCodes translates the abbreviations embedded in barcodes to the
// canonical color component. Both the 3- and 2-letter spellings occur
// upstream.
var colorCodes = map[string]string{
	"NEG": "NN0", "NG": "NN0", // negro
	"BLA": "BB0", "BL": "BB0", // blanco
	"ROJ": "RR0", "RJ": "RR0", // rojo
	"AZU": "AA0", "AZ": "AA0", // azul
	"VER": "VV0", "VD": "VV0", // verde
	"GRI": "GG0", "GR": "GG0", // gris
}

// Decompose splits a <base><color><size> code into the canonical
// <base>-<COLOR>-T<size> form. The size is the trailing two digits;
// the color abbreviation before it is tried at three characters first,
// then two. Codes that do not match any boundary are left alone.
func Decompose(code string) (string, bool) {
	if len(code) < 5 {
		return "", false
	}

	size := code[len(code)-2:]
	if !isDigits(size) {
		return "", false
	}
	rest := code[:len(code)-2]

	for _, width := range []int{3, 2} {
		if len(rest) <= width {
			continue
		}
		abbr := rest[len(rest)-width:]
		color, ok := colorCodes[abbr]
		if !ok {
			continue
		}
		base := rest[:len(rest)-width]
		return fmt.Sprintf("%s-%s-T%s", base, color, size), true
	}

	return "", false
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
