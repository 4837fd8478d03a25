package catalog

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/hevelius/hevelius/pkg/catalogsrc"
	"github.com/hevelius/hevelius/pkg/storage"
)

//go:embed data/*.csv
var builtinFS embed.FS

// builtins maps a built-in catalog name to its tag and embedded file.
var builtins = map[string]struct{ tag, file string }{
	"messier": {"M", "data/messier.csv"},
}

// BuiltinNames lists the catalogs shipped with the binary.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the tag and objects of an embedded catalog.
func Builtin(name string) (string, []storage.CatalogObject, error) {
	b, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", nil, fmt.Errorf("no built-in catalog %q (available: %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	data, err := builtinFS.ReadFile(b.file)
	if err != nil {
		return "", nil, err
	}
	objs, err := catalogsrc.ParseCSV(bytes.NewReader(data), catalogsrc.Options{RAUnit: catalogsrc.RAHours})
	if err != nil {
		return "", nil, fmt.Errorf("built-in catalog %s: %w", name, err)
	}
	return b.tag, objs, nil
}
