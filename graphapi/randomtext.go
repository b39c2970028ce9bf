package graphapi

import (
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// directives look like <random:a,b,c> <random[2]:a|b|c> <random[1-3,]:a,b,1-5>
var randomRe = regexp.MustCompile(`<random(?:\[(\d+(?:-\d+)?)(,?)\])?:([^>]+)>`)
var numRangeRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)$`)

// ExpandRandomSyntax replaces <random:...> directives in prompt text with
// seeded random selections. The same seed always yields the same output.
//
// Supported forms:
//
//	<random:val1, val2, val3>    pick one of a comma separated list
//	<random:val1|val2|val3>      pipe separator for values containing commas
//	<random:1-5>                 integer range, enumerated inclusively
//	<random:0.8-1.2>             float range, stepped by the finest decimal
//	<random[2-4]:val1, val2>     repeat 2-4 times without repetition
//	<random[2-4,]:val1, val2>    repeat, joined with ", " instead of " "
func ExpandRandomSyntax(text string, seed int64) string {
	rng := rand.New(rand.NewSource(seed))

	return randomRe.ReplaceAllStringFunc(text, func(match string) string {
		groups := randomRe.FindStringSubmatch(match)
		repeatSpec := groups[1]
		commaSep := groups[2] == ","
		optionsStr := groups[3]

		// pipe wins as the separator when it occurs more often than comma
		separator := ","
		if strings.Count(optionsStr, "|") > strings.Count(optionsStr, ",") {
			separator = "|"
		}

		var options []string
		for _, opt := range strings.Split(optionsStr, separator) {
			options = append(options, expandNumericRange(strings.TrimSpace(opt))...)
		}
		if len(options) == 0 {
			return ""
		}

		repeatCount := 1
		if repeatSpec != "" {
			if lo, hi, ok := strings.Cut(repeatSpec, "-"); ok {
				min, _ := strconv.Atoi(lo)
				max, _ := strconv.Atoi(hi)
				repeatCount = min + rng.Intn(max-min+1)
			} else {
				repeatCount, _ = strconv.Atoi(repeatSpec)
			}
		}

		var selected []string
		if repeatCount <= len(options) {
			// without repetition
			for _, i := range rng.Perm(len(options))[:repeatCount] {
				selected = append(selected, options[i])
			}
		} else {
			for i := 0; i < repeatCount; i++ {
				selected = append(selected, options[rng.Intn(len(options))])
			}
		}

		if commaSep {
			return strings.Join(selected, ", ")
		}
		return strings.Join(selected, " ")
	})
}

// expandNumericRange turns "1-5" into ["1" "2" "3" "4" "5"] and
// "0.8-1.0" into ["0.8" "0.9" "1.0"]. Anything else passes through.
func expandNumericRange(opt string) []string {
	m := numRangeRe.FindStringSubmatch(opt)
	if m == nil {
		return []string{opt}
	}
	startStr, endStr := m[1], m[2]

	if !strings.Contains(startStr, ".") && !strings.Contains(endStr, ".") {
		start, _ := strconv.Atoi(startStr)
		end, _ := strconv.Atoi(endStr)
		var retv []string
		for i := start; i <= end; i++ {
			retv = append(retv, strconv.Itoa(i))
		}
		return retv
	}

	// float range, step at the finest decimal precision of either bound
	decimals := 0
	if _, frac, ok := strings.Cut(startStr, "."); ok && len(frac) > decimals {
		decimals = len(frac)
	}
	if _, frac, ok := strings.Cut(endStr, "."); ok && len(frac) > decimals {
		decimals = len(frac)
	}
	start, _ := strconv.ParseFloat(startStr, 64)
	end, _ := strconv.ParseFloat(endStr, 64)
	step := 1.0
	for i := 0; i < decimals; i++ {
		step /= 10
	}

	var retv []string
	for current := start; current <= end+step/2; current += step {
		retv = append(retv, strconv.FormatFloat(current, 'f', decimals, 64))
	}
	return retv
}
