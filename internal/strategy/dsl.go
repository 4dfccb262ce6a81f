package strategy

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yourusername/clever-backtest/internal/models"
)

// DSLError reports a problem at a specific line of strategy text
type DSLError struct {
	Line    int
	Message string
}

func (e *DSLError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func dslErr(line int, format string, args ...interface{}) *DSLError {
	return &DSLError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// ParseDSL reads the line-oriented strategy text format. It checks syntax only;
// run Validate on the result before use.
func ParseDSL(text string) (*models.StrategyDefinition, error) {
	def := &models.StrategyDefinition{}
	sawHeader := false

	scanner := bufio.NewScanner(strings.NewReader(text))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest := splitKeyword(line)
		if !sawHeader && keyword != "strategy" {
			return nil, dslErr(lineNo, "expected 'strategy <id> <version>' first")
		}

		switch keyword {
		case "strategy":
			if sawHeader {
				return nil, dslErr(lineNo, "duplicate strategy header")
			}
			fields := strings.Fields(rest)
			if len(fields) != 2 {
				return nil, dslErr(lineNo, "expected 'strategy <id> <version>'")
			}
			def.ID = fields[0]
			def.Version = strings.TrimPrefix(fields[1], "v")
			sawHeader = true

		case "action":
			def.Action = models.BetAction(strings.TrimSpace(rest))

		case "when", "and":
			if (keyword == "when") != (len(def.Conditions) == 0) {
				return nil, dslErr(lineNo, "the first condition starts with 'when', later ones with 'and'")
			}
			cond, err := parseConditionLine(rest)
			if err != nil {
				return nil, dslErr(lineNo, "%s", err.Error())
			}
			def.Conditions = append(def.Conditions, cond)

		case "score":
			if strings.TrimSpace(rest) == "" {
				return nil, dslErr(lineNo, "score needs a formula")
			}
			def.Formula = strings.TrimSpace(rest)

		case "min_score":
			n, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			if err != nil {
				return nil, dslErr(lineNo, "min_score needs a number")
			}
			def.MinScore = &n

		case "stake":
			if err := parseStakeLine(def, rest); err != nil {
				return nil, dslErr(lineNo, "%s", err.Error())
			}

		case "filter":
			if err := parseFilterLine(def, rest); err != nil {
				return nil, dslErr(lineNo, "%s", err.Error())
			}

		case "author", "description":
			s, err := strconv.Unquote(strings.TrimSpace(rest))
			if err != nil {
				return nil, dslErr(lineNo, "%s needs a quoted string", keyword)
			}
			if keyword == "author" {
				def.Metadata.Author = s
			} else {
				def.Metadata.Description = s
			}

		case "tag":
			tags, err := parseWords(rest)
			if err != nil {
				return nil, dslErr(lineNo, "%s", err.Error())
			}
			def.Metadata.Tags = append(def.Metadata.Tags, tags...)

		case "created":
			t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(rest))
			if err != nil {
				return nil, dslErr(lineNo, "created needs an RFC3339 timestamp")
			}
			def.Metadata.CreatedAt = &t

		default:
			return nil, dslErr(lineNo, "unknown keyword %q", keyword)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read strategy text: %w", err)
	}
	if !sawHeader {
		return nil, dslErr(lineNo, "strategy text is empty")
	}
	return def, nil
}

func splitKeyword(line string) (string, string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}
	return line[:idx], strings.TrimSpace(line[idx+1:])
}

// parseConditionLine reads "<field>[@first|@last] <op> <value>..."
func parseConditionLine(rest string) (models.StrategyCondition, error) {
	words, err := splitValues(rest)
	if err != nil {
		return models.StrategyCondition{}, err
	}
	if len(words) < 3 {
		return models.StrategyCondition{}, fmt.Errorf("expected '<field> <operator> <value>'")
	}

	cond := models.StrategyCondition{Operator: models.Operator(words[1])}
	field := words[0]
	if at := strings.IndexByte(field, '@'); at >= 0 {
		cond.TimeRef = models.TimeRef(field[at+1:])
		field = field[:at]
	}
	cond.Field = field

	values := make([]models.Value, 0, len(words)-2)
	for _, w := range words[2:] {
		v, err := parseLiteral(w)
		if err != nil {
			return models.StrategyCondition{}, err
		}
		values = append(values, v)
	}

	switch cond.Operator {
	case models.OpBetween, models.OpIn:
		cond.Value = models.ListOperand(values...)
	default:
		if len(values) != 1 {
			return models.StrategyCondition{}, fmt.Errorf("operator %s takes a single value", cond.Operator)
		}
		cond.Value = models.ScalarOperand(values[0])
	}
	return cond, nil
}

func parseStakeLine(def *models.StrategyDefinition, rest string) error {
	if def.Stake == nil {
		def.Stake = &models.StakePolicy{}
	}
	words := strings.Fields(rest)
	if len(words) == 0 {
		return fmt.Errorf("stake needs a rule")
	}

	number := func(i int) (float64, error) {
		if i >= len(words) {
			return 0, fmt.Errorf("stake %s needs a number", words[0])
		}
		return strconv.ParseFloat(words[i], 64)
	}

	var err error
	switch words[0] {
	case "fixed":
		def.Stake.Fixed, err = number(1)
	case "percent":
		def.Stake.PercentOfBankroll, err = number(1)
	case "kelly":
		def.Stake.UseKelly = true
		if len(words) > 1 {
			if words[1] != "fraction" {
				return fmt.Errorf("expected 'stake kelly [fraction <f>]'")
			}
			def.Stake.KellyFraction, err = number(2)
		}
	default:
		return fmt.Errorf("unknown stake rule %q", words[0])
	}
	if err != nil {
		return fmt.Errorf("invalid stake number: %w", err)
	}
	return nil
}

func parseFilterLine(def *models.StrategyDefinition, rest string) error {
	if def.Filters == nil {
		def.Filters = &models.StrategyFilters{}
	}
	words, err := splitValues(rest)
	if err != nil {
		return err
	}
	if len(words) < 2 {
		return fmt.Errorf("expected 'filter <name> <value>...'")
	}

	switch words[0] {
	case "tracks", "race_types":
		list := make([]string, 0, len(words)-1)
		for _, w := range words[1:] {
			v, err := parseLiteral(w)
			if err != nil {
				return err
			}
			list = append(list, v.String())
		}
		if words[0] == "tracks" {
			def.Filters.Tracks = list
		} else {
			def.Filters.RaceTypes = list
		}
	case "min_entries":
		n, err := strconv.Atoi(words[1])
		if err != nil {
			return fmt.Errorf("min_entries needs an integer")
		}
		def.Filters.MinEntries = n
	default:
		return fmt.Errorf("unknown filter %q", words[0])
	}
	return nil
}

// splitValues splits on whitespace, keeping quoted strings intact (quotes retained)
func splitValues(s string) ([]string, error) {
	var out []string
	i := 0
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			break
		}
		start := i
		if s[i] == '"' {
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' {
					i++
				}
				i++
			}
			if i >= len(s) {
				return nil, fmt.Errorf("unterminated string")
			}
			i++
		} else {
			for i < len(s) && s[i] != ' ' && s[i] != '\t' {
				i++
			}
		}
		out = append(out, s[start:i])
	}
	return out, nil
}

// parseWords reads bare words and quoted strings
func parseWords(s string) ([]string, error) {
	words, err := splitValues(s)
	if err != nil {
		return nil, err
	}
	for i, w := range words {
		if !strings.HasPrefix(w, "\"") {
			continue
		}
		if words[i], err = strconv.Unquote(w); err != nil {
			return nil, fmt.Errorf("invalid string %s", w)
		}
	}
	return words, nil
}

func parseLiteral(word string) (models.Value, error) {
	switch {
	case strings.HasPrefix(word, "\""):
		s, err := strconv.Unquote(word)
		if err != nil {
			return models.Value{}, fmt.Errorf("invalid string %s", word)
		}
		return models.String(s), nil
	case word == "true" || word == "false":
		return models.Bool(word == "true"), nil
	}
	n, err := strconv.ParseFloat(word, 64)
	if err != nil {
		return models.Value{}, fmt.Errorf("invalid value %q (quote strings)", word)
	}
	return models.Number(n), nil
}

// FormatDSL renders a definition in the strategy text format. ParseDSL of the
// output yields an equivalent definition.
func FormatDSL(def *models.StrategyDefinition) string {
	var b strings.Builder

	fmt.Fprintf(&b, "strategy %s v%s\n", def.ID, def.Version)
	fmt.Fprintf(&b, "action %s\n", def.Action)

	for i, cond := range def.Conditions {
		keyword := "and"
		if i == 0 {
			keyword = "when"
		}
		field := cond.Field
		if ref := cond.EffectiveTimeRef(); ref != models.TimeRefCurrent {
			field += "@" + string(ref)
		}
		fmt.Fprintf(&b, "%s %s %s %s\n", keyword, field, cond.Operator, formatOperand(cond.Value))
	}

	if def.Formula != "" {
		fmt.Fprintf(&b, "score %s\n", strings.NewReplacer("\r", " ", "\n", " ").Replace(def.Formula))
	}
	if def.MinScore != nil {
		fmt.Fprintf(&b, "min_score %s\n", formatNumber(*def.MinScore))
	}

	if s := def.Stake; s != nil {
		if s.Fixed != 0 {
			fmt.Fprintf(&b, "stake fixed %s\n", formatNumber(s.Fixed))
		}
		if s.PercentOfBankroll != 0 {
			fmt.Fprintf(&b, "stake percent %s\n", formatNumber(s.PercentOfBankroll))
		}
		if s.UseKelly {
			if s.KellyFraction != 0 {
				fmt.Fprintf(&b, "stake kelly fraction %s\n", formatNumber(s.KellyFraction))
			} else {
				b.WriteString("stake kelly\n")
			}
		}
	}

	if f := def.Filters; f != nil {
		if len(f.Tracks) > 0 {
			fmt.Fprintf(&b, "filter tracks %s\n", quoteAll(f.Tracks))
		}
		if len(f.RaceTypes) > 0 {
			fmt.Fprintf(&b, "filter race_types %s\n", quoteAll(f.RaceTypes))
		}
		if f.MinEntries > 0 {
			fmt.Fprintf(&b, "filter min_entries %d\n", f.MinEntries)
		}
	}

	if def.Metadata.Author != "" {
		fmt.Fprintf(&b, "author %s\n", strconv.Quote(def.Metadata.Author))
	}
	if def.Metadata.Description != "" {
		fmt.Fprintf(&b, "description %s\n", strconv.Quote(def.Metadata.Description))
	}
	if len(def.Metadata.Tags) > 0 {
		fmt.Fprintf(&b, "tag %s\n", quoteAll(def.Metadata.Tags))
	}
	if def.Metadata.CreatedAt != nil {
		fmt.Fprintf(&b, "created %s\n", def.Metadata.CreatedAt.UTC().Format(time.RFC3339Nano))
	}
	return b.String()
}

func formatOperand(o models.Operand) string {
	if o.Scalar != nil {
		return o.Scalar.Literal()
	}
	parts := make([]string, len(o.List))
	for i, v := range o.List {
		parts[i] = v.Literal()
	}
	return strings.Join(parts, " ")
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func quoteAll(values []string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Quote(v)
	}
	return strings.Join(parts, " ")
}
