// Package paramfile reads and updates the engine's YAML pair configs.
// Documents are edited as yaml.Node trees so key order, comments and
// unknown keys survive an update.
package paramfile

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shigeo-nakamura/pairtrade/internal/domain"
	"github.com/shigeo-nakamura/pairtrade/internal/sampler"
	"github.com/shigeo-nakamura/pairtrade/internal/search"
)

// ErrConfigNotFound is returned when a config path does not exist.
var ErrConfigNotFound = errors.New("config not found")

var numberedConfig = regexp.MustCompile(`^debot\d+\.yaml$`)

// Document is a loaded YAML mapping.
type Document struct {
	path string
	doc  *yaml.Node
	root *yaml.Node // mapping node
}

// Load reads path. A missing file wraps ErrConfigNotFound; an empty file or
// a non-mapping document loads as an empty mapping.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	d := &Document{path: path}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
		d.doc = &doc
		d.root = doc.Content[0]
		return d, nil
	}
	d.root = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	d.doc = &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{d.root}}
	return d, nil
}

// Path returns the file the document was loaded from.
func (d *Document) Path() string { return d.path }

// Empty reports whether the document has no keys.
func (d *Document) Empty() bool { return len(d.root.Content) == 0 }

func (d *Document) lookup(key string) *yaml.Node {
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		if d.root.Content[i].Value == key {
			return d.root.Content[i+1]
		}
	}
	return nil
}

// Get returns the scalar text stored under key. Null values count as absent.
func (d *Document) Get(key string) (string, bool) {
	n := d.lookup(key)
	if n == nil || n.Kind != yaml.ScalarNode || n.Tag == "!!null" {
		return "", false
	}
	return n.Value, true
}

// List returns key as a list of non-empty strings. A sequence is used as is;
// a scalar is split on commas.
func (d *Document) List(key string) []string {
	n := d.lookup(key)
	if n == nil {
		return nil
	}
	var raw []string
	switch n.Kind {
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind == yaml.ScalarNode {
				raw = append(raw, item.Value)
			}
		}
	case yaml.ScalarNode:
		if n.Tag != "!!null" {
			raw = strings.Split(n.Value, ",")
		}
	}
	var out []string
	for _, v := range raw {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Set stores a scalar under key, replacing an existing value in place or
// appending a new key at the end.
func (d *Document) Set(key string, value any) {
	node := scalarNode(value)
	for i := 0; i+1 < len(d.root.Content); i += 2 {
		if d.root.Content[i].Value == key {
			node.HeadComment = d.root.Content[i+1].HeadComment
			node.LineComment = d.root.Content[i+1].LineComment
			d.root.Content[i+1] = node
			return
		}
	}
	d.root.Content = append(d.root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		node,
	)
}

// Save writes the document back to its path through a temp file and rename.
func (d *Document) Save() error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(d.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(d.doc); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", d.path, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path)
}

// TargetPairs returns universe_pairs, or every ordered combination
// "A/B" of universe_symbols when no pairs are listed.
func (d *Document) TargetPairs() []string {
	if pairs := d.List("universe_pairs"); len(pairs) > 0 {
		return pairs
	}
	symbols := d.List("universe_symbols")
	var pairs []string
	for i, base := range symbols {
		for _, quote := range symbols[i+1:] {
			pairs = append(pairs, base+"/"+quote)
		}
	}
	return pairs
}

// SeedGrid widens grid with values around the ones already configured in d,
// so the current production setting and its neighbours are always searched.
func SeedGrid(grid *sampler.Grid, d *Document) *sampler.Grid {
	seeded := grid.Clone()
	if d == nil || d.Empty() {
		return seeded
	}
	for _, name := range grid.Names() {
		current, ok := d.Get(strings.ToLower(name))
		if !ok {
			continue
		}
		seeded.Add(name, search.RefinedValues(name, current, grid.Values(name))...)
	}
	return seeded
}

// Coerce converts a parameter value into the YAML type the engine reads:
// string for categorical names, int for integer names, float otherwise.
// Unparseable numbers stay strings.
func Coerce(name, value string) any {
	if sampler.IsStringParam(name) {
		return value
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return value
	}
	if sampler.IsIntParam(name) {
		return int64(f)
	}
	return f
}

// UpdateParams writes params into the config at path under lowercase keys.
// Other keys are left untouched. It reports whether anything was written.
func UpdateParams(path string, params domain.ParameterSet) (bool, error) {
	if len(params) == 0 {
		return false, nil
	}
	d, err := Load(path)
	if err != nil {
		return false, err
	}
	for _, name := range params.Names() {
		d.Set(strings.ToLower(name), Coerce(name, params[name]))
	}
	if err := d.Save(); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateTargets lists the configs that share parameters with configPath:
// every debotNN.yaml next to a numbered config, every debot_extended* or
// debot_lighter* sibling for those families, otherwise configPath alone.
// configPath is always first when it exists.
func UpdateTargets(configPath string) []string {
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)

	var match func(string) bool
	switch {
	case numberedConfig.MatchString(base):
		match = numberedConfig.MatchString
	case strings.HasPrefix(base, "debot_extended"):
		match = familyMatcher("debot_extended")
	case strings.HasPrefix(base, "debot_lighter"):
		match = familyMatcher("debot_lighter")
	default:
		return []string{configPath}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{configPath}
	}
	var targets []string
	for _, e := range entries {
		if e.Type().IsRegular() && match(e.Name()) {
			targets = append(targets, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(targets)

	hasSelf := false
	for _, t := range targets {
		if t == configPath {
			hasSelf = true
			break
		}
	}
	if !hasSelf {
		if _, err := os.Stat(configPath); err == nil {
			targets = append([]string{configPath}, targets...)
		}
	}
	if len(targets) == 0 {
		return []string{configPath}
	}
	return targets
}

// MapByPair groups single-pair configs by their pair. Configs that trade
// several pairs are returned separately, since they cannot take per-pair params.
func MapByPair(paths []string) (byPair map[string][]string, multiPair []string) {
	byPair = make(map[string][]string)
	for _, p := range paths {
		d, err := Load(p)
		if err != nil {
			continue
		}
		pairs := d.TargetPairs()
		switch len(pairs) {
		case 0:
		case 1:
			byPair[pairs[0]] = append(byPair[pairs[0]], p)
		default:
			multiPair = append(multiPair, p)
		}
	}
	return byPair, multiPair
}

// DescribeGroup names a set of config paths for log output.
func DescribeGroup(paths []string) string {
	if len(paths) == 1 {
		return filepath.Base(paths[0])
	}
	all := func(match func(string) bool) bool {
		if len(paths) == 0 {
			return false
		}
		for _, p := range paths {
			if !match(filepath.Base(p)) {
				return false
			}
		}
		return true
	}
	switch {
	case all(numberedConfig.MatchString):
		return "debot*.yaml"
	case all(familyMatcher("debot_lighter")):
		return "debot_lighter*.yaml"
	case all(familyMatcher("debot_extended")):
		return "debot_extended*.yaml"
	}
	return "config files"
}

func familyMatcher(prefix string) func(string) bool {
	return func(name string) bool {
		return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".yaml")
	}
}

func scalarNode(value any) *yaml.Node {
	switch v := value.(type) {
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v, 10)}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(v)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(v)}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v)}
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(v)}
	}
}

// formatFloat keeps a decimal point on whole numbers so the value reads back as a float.
func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return ".inf"
	case math.IsInf(v, -1):
		return "-.inf"
	case math.IsNaN(v):
		return ".nan"
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
