package shopee

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/giadungplus/opscore/internal/domain/integration"
)

// Shop is one Shopee shop linked to Sapo
type Shop struct {
	Name         string `json:"name"`
	ConnectionID int64  `json:"shop_connect"`
	HeadersFile  string `json:"headers_file"`
	SellerShopID int64  `json:"seller_shop_id"`
}

// UnmarshalJSON accepts numeric ids written as strings
func (s *Shop) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name         string          `json:"name"`
		ConnectionID json.RawMessage `json:"shop_connect"`
		HeadersFile  string          `json:"headers_file"`
		SellerShopID json.RawMessage `json:"seller_shop_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	conn, err := parseID(raw.ConnectionID)
	if err != nil {
		return fmt.Errorf("shop %q shop_connect: %w", raw.Name, err)
	}
	seller, err := parseID(raw.SellerShopID)
	if err != nil {
		return fmt.Errorf("shop %q seller_shop_id: %w", raw.Name, err)
	}
	*s = Shop{Name: raw.Name, ConnectionID: conn, HeadersFile: raw.HeadersFile, SellerShopID: seller}
	return nil
}

func parseID(raw json.RawMessage) (int64, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Registry resolves shops by Sapo connection id or name
type Registry struct {
	baseDir string
	shops   []Shop
}

// LoadRegistry reads a shops file of the form {"shops":[...]}.
// Relative header file paths are resolved against the shops file's directory.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("shopee: read shops file: %w", err)
	}
	var payload struct {
		Shops []Shop `json:"shops"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("shopee: decode shops file: %w", err)
	}

	r := &Registry{baseDir: filepath.Dir(path)}
	for _, shop := range payload.Shops {
		if shop.Name == "" {
			continue
		}
		r.shops = append(r.shops, shop)
	}
	return r, nil
}

// NewRegistry builds a registry from shops already in memory
func NewRegistry(baseDir string, shops []Shop) *Registry {
	return &Registry{baseDir: baseDir, shops: shops}
}

// Shops returns a copy of the registered shops
func (r *Registry) Shops() []Shop {
	return append([]Shop(nil), r.shops...)
}

// ByConnection returns the shop linked through connectionID
func (r *Registry) ByConnection(connectionID int64) (Shop, error) {
	for _, shop := range r.shops {
		if shop.ConnectionID == connectionID {
			return shop, nil
		}
	}
	return Shop{}, fmt.Errorf("%w: connection %d", integration.ErrShopNotFound, connectionID)
}

// ByName returns the shop with the given name
func (r *Registry) ByName(name string) (Shop, error) {
	for _, shop := range r.shops {
		if shop.Name == name {
			return shop, nil
		}
	}
	return Shop{}, fmt.Errorf("%w: %q", integration.ErrShopNotFound, name)
}

// Resolve accepts either a connection id or a shop name
func (r *Registry) Resolve(key string) (Shop, error) {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil {
		if shop, err := r.ByConnection(id); err == nil {
			return shop, nil
		}
	}
	return r.ByName(key)
}

// Headers loads the current header file of shop. Files are read on every
// call so an operator can paste fresh cookies without a restart.
func (r *Registry) Headers(shop Shop) (map[string]string, error) {
	if shop.HeadersFile == "" {
		return nil, fmt.Errorf("shopee: shop %q has no headers file", shop.Name)
	}
	path := shop.HeadersFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.baseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shopee: open headers file: %w", err)
	}
	defer f.Close()
	return ParseHeaders(f)
}

// ErrDanglingHeader is returned when a header file ends with a name and no value
var ErrDanglingHeader = errors.New("shopee: header name without value")

// ParseHeaders reads alternating name and value lines, as copied from the
// browser's request headers panel. Blank lines are ignored.
func ParseHeaders(r io.Reader) (map[string]string, error) {
	headers := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var name string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if name == "" {
			name = strings.TrimSpace(line)
			continue
		}
		headers[name] = line
		name = ""
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("shopee: read headers: %w", err)
	}
	if name != "" {
		return headers, fmt.Errorf("%w: %q", ErrDanglingHeader, name)
	}
	return headers, nil
}
