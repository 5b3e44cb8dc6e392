package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/imrishuroy/go-shop-orderflow/internal/inventory"
)

//go:embed default.yaml
var defaultData []byte

// File is the seed document.
type File struct {
	Users    []string  `yaml:"users"`
	Products []Product `yaml:"products"`
}

// Product is one catalog entry of the seed document.
type Product struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Quantity int    `yaml:"quantity"`
	Active   *bool  `yaml:"active"` // defaults to true
}

// UserRegistry accepts seeded user ids.
type UserRegistry interface {
	Add(id string)
}

// Default returns the built-in demo data.
func Default() (*File, error) {
	return Parse(defaultData)
}

// LoadFile loads and parses a YAML seed file from the given path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and checks YAML seed data.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	var errs []error
	seen := map[string]bool{}
	for i, p := range f.Products {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("products[%d]: id is required", i))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("products[%d]: duplicate id %s", i, p.ID))
		}
		seen[p.ID] = true
		price, err := decimal.NewFromString(p.Price)
		if err != nil || price.IsNegative() {
			errs = append(errs, fmt.Errorf("products[%d]: invalid price %q", i, p.Price))
		}
		if p.Quantity < 0 {
			errs = append(errs, fmt.Errorf("products[%d]: negative quantity", i))
		}
	}
	for i, u := range f.Users {
		if u == "" {
			errs = append(errs, fmt.Errorf("users[%d]: empty id", i))
		}
	}
	return errors.Join(errs...)
}

// Apply writes the products to store and registers the users. users may be
// nil when the directory is managed elsewhere. Products that already exist
// keep their current stock.
func (f *File) Apply(ctx context.Context, store inventory.Store, users UserRegistry) error {
	for _, p := range f.Products {
		active := p.Active == nil || *p.Active
		err := store.Put(ctx, inventory.Product{
			ID:       p.ID,
			Name:     p.Name,
			Price:    decimal.RequireFromString(p.Price),
			Quantity: p.Quantity,
			Active:   active,
		})
		if err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
	}
	if users != nil {
		for _, id := range f.Users {
			users.Add(id)
		}
	}
	return nil
}
