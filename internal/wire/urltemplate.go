package wire

import (
	"net/url"
	"strconv"
	"strings"
)

// ResolveTemplate substitutes the {level}/{x}/{y}/{z} tokens the
// implicit-tiling subtrees/content URI templates use (3D Tiles
// implicit-tiling extension, spec.md §6.5). {version} is not
// substituted; it and any other unknown token are left untouched so
// callers can layer their own substitutions (e.g. a separately-templated
// {version} for layer.json endpoints).
func ResolveTemplate(template string, level, x, y, z uint32) string {
	r := strings.NewReplacer(
		"{level}", strconv.FormatUint(uint64(level), 10),
		"{x}", strconv.FormatUint(uint64(x), 10),
		"{y}", strconv.FormatUint(uint64(y), 10),
		"{z}", strconv.FormatUint(uint64(z), 10),
	)
	return r.Replace(template)
}

// ResolveURL joins a (possibly relative) tile content URI against the
// tileset.json's own URL, the way a browser resolves relative hrefs.
func ResolveURL(baseURL, ref string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(rel).String(), nil
}
