package template

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// filterFunc applies one named filter to a value with its evaluated
// arguments, per the closed filter set documented in §4.2.
type filterFunc func(v interface{}, args []interface{}) (interface{}, error)

var filters = map[string]filterFunc{
	"json":          filterJSON,
	"dig":           filterDig,
	"pluck":         filterPluck,
	"where_eq":      filterWhereEq,
	"sort_by":       filterSortBy,
	"group_by":      filterGroupBy,
	"index_by":      filterIndexBy,
	"sha256":        filterSHA256,
	"hmac_sha256":   filterHMACSHA256,
	"base64_encode": filterBase64Encode,
	"base64_decode": filterBase64Decode,
	"default":       filterDefault,
	"to_int":        filterToInt,
	"slugify":       filterSlugify,
	"format_date":   filterFormatDate,
	"add_days":      filterAddDays,
	"abs":           filterAbs,
	"ceil":          filterCeil,
	"floor":         filterFloor,
	"clamp":         filterClamp,
	"match":         filterMatch,
	"extract":       filterExtract,
	"first":         filterFirst,
	"last":          filterLast,
	"downcase":      filterDowncase,
	"upcase":        filterUpcase,
}

func filterJSON(v interface{}, _ []interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// filterDig walks a dotted path into v using gjson, after re-marshaling v to
// bytes — gjson operates on raw JSON, the decoded tree does not.
func filterDig(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("dig: expected 1 argument")
	}
	path, _ := args[0].(string)
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(b, path)
	if !res.Exists() {
		return nil, nil
	}
	return res.Value(), nil
}

func asList(v interface{}) ([]interface{}, bool) {
	l, ok := v.([]interface{})
	return l, ok
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func filterPluck(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("pluck: expected 1 argument")
	}
	key, _ := args[0].(string)
	list, ok := asList(v)
	if !ok {
		return nil, fmt.Errorf("pluck: value is not a list")
	}
	out := make([]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := asMap(item); ok {
			out = append(out, m[key])
		} else {
			out = append(out, nil)
		}
	}
	return out, nil
}

func filterWhereEq(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("where_eq: expected 2 arguments")
	}
	key, _ := args[0].(string)
	want := args[1]
	list, ok := asList(v)
	if !ok {
		return nil, fmt.Errorf("where_eq: value is not a list")
	}
	out := make([]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := asMap(item); ok && looseEqual(m[key], want) {
			out = append(out, item)
		}
	}
	return out, nil
}

func filterSortBy(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("sort_by: expected 1 argument")
	}
	key, _ := args[0].(string)
	list, ok := asList(v)
	if !ok {
		return nil, fmt.Errorf("sort_by: value is not a list")
	}
	out := append([]interface{}{}, list...)
	sort.SliceStable(out, func(i, j int) bool {
		mi, _ := asMap(out[i])
		mj, _ := asMap(out[j])
		fi, iok := toFloat(mi[key])
		fj, jok := toFloat(mj[key])
		if iok && jok {
			return fi < fj
		}
		return fmt.Sprintf("%v", mi[key]) < fmt.Sprintf("%v", mj[key])
	})
	return out, nil
}

func filterGroupBy(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("group_by: expected 1 argument")
	}
	key, _ := args[0].(string)
	list, ok := asList(v)
	if !ok {
		return nil, fmt.Errorf("group_by: value is not a list")
	}
	out := make(map[string]interface{})
	for _, item := range list {
		m, _ := asMap(item)
		k := fmt.Sprintf("%v", m[key])
		group, _ := out[k].([]interface{})
		out[k] = append(group, item)
	}
	return out, nil
}

func filterIndexBy(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("index_by: expected 1 argument")
	}
	key, _ := args[0].(string)
	list, ok := asList(v)
	if !ok {
		return nil, fmt.Errorf("index_by: value is not a list")
	}
	out := make(map[string]interface{})
	for _, item := range list {
		m, _ := asMap(item)
		k := fmt.Sprintf("%v", m[key])
		out[k] = item
	}
	return out, nil
}

func filterSHA256(v interface{}, _ []interface{}) (interface{}, error) {
	sum := sha256.Sum256([]byte(stringify(v)))
	return hex.EncodeToString(sum[:]), nil
}

func filterHMACSHA256(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("hmac_sha256: expected 1 argument (secret)")
	}
	secret, _ := args[0].(string)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(stringify(v)))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func filterBase64Encode(v interface{}, _ []interface{}) (interface{}, error) {
	return base64.StdEncoding.EncodeToString([]byte(stringify(v))), nil
}

func filterBase64Decode(v interface{}, _ []interface{}) (interface{}, error) {
	s, _ := v.(string)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func filterDefault(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("default: expected 1 argument")
	}
	if v == nil || v == "" {
		return args[0], nil
	}
	return v, nil
}

func filterToInt(v interface{}, _ []interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("to_int: value is not numeric")
	}
	return math.Trunc(f), nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

func filterSlugify(v interface{}, _ []interface{}) (interface{}, error) {
	s := strings.ToLower(stringify(v))
	s = slugInvalid.ReplaceAllString(s, "-")
	return strings.Trim(s, "-"), nil
}

func filterFormatDate(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("format_date: expected 1 argument")
	}
	t, err := parseTimeValue(v)
	if err != nil {
		return nil, err
	}
	layout, _ := args[0].(string)
	return t.Format(strftimeToGoLayout(layout)), nil
}

func filterAddDays(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("add_days: expected 1 argument")
	}
	t, err := parseTimeValue(v)
	if err != nil {
		return nil, err
	}
	n, _ := toInt(args[0])
	return t.AddDate(0, 0, n).Format(time.RFC3339), nil
}

func parseTimeValue(v interface{}) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("value is not a date string")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// strftimeToGoLayout supports a small set of %-directives for format_date,
// falling back to treating the input as a literal Go reference layout.
func strftimeToGoLayout(fmtStr string) string {
	if !strings.Contains(fmtStr, "%") {
		return fmtStr
	}
	replacer := strings.NewReplacer(
		"%Y", "2006", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	return replacer.Replace(fmtStr)
}

func filterAbs(v interface{}, _ []interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("abs: value is not numeric")
	}
	return math.Abs(f), nil
}

func filterCeil(v interface{}, _ []interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("ceil: value is not numeric")
	}
	return math.Ceil(f), nil
}

func filterFloor(v interface{}, _ []interface{}) (interface{}, error) {
	f, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("floor: value is not numeric")
	}
	return math.Floor(f), nil
}

func filterClamp(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("clamp: expected 2 arguments (lo, hi)")
	}
	f, ok := toFloat(v)
	lo, lok := toFloat(args[0])
	hi, hok := toFloat(args[1])
	if !ok || !lok || !hok {
		return nil, fmt.Errorf("clamp: non-numeric operand")
	}
	if f < lo {
		return lo, nil
	}
	if f > hi {
		return hi, nil
	}
	return f, nil
}

func filterMatch(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("match: expected 1 argument (regex)")
	}
	pattern, _ := args[0].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("match: invalid regex: %w", err)
	}
	return re.MatchString(stringify(v)), nil
}

func filterExtract(v interface{}, args []interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("extract: expected 1 argument (regex)")
	}
	pattern, _ := args[0].(string)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("extract: invalid regex: %w", err)
	}
	m := re.FindStringSubmatch(stringify(v))
	if m == nil {
		return "", nil
	}
	if len(m) > 1 {
		return m[1], nil
	}
	return m[0], nil
}

func filterFirst(v interface{}, _ []interface{}) (interface{}, error) {
	list, ok := asList(v)
	if !ok || len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func filterLast(v interface{}, _ []interface{}) (interface{}, error) {
	list, ok := asList(v)
	if !ok || len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func filterDowncase(v interface{}, _ []interface{}) (interface{}, error) {
	return strings.ToLower(stringify(v)), nil
}

func filterUpcase(v interface{}, _ []interface{}) (interface{}, error) {
	return strings.ToUpper(stringify(v)), nil
}
