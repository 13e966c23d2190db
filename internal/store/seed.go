package store

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	yaml "gopkg.in/yaml.v3"
)

// Seed is a YAML fixture of reference data: branches, provider mappings and
// the product catalog.
type Seed struct {
	Branches []Branch        `yaml:"branches"`
	Mappings []BranchMapping `yaml:"mappings"`
	Products []seedProduct   `yaml:"products"`
}

type seedProduct struct {
	Product `yaml:",inline"`
	Price   string `yaml:"price"`
}

func (sp seedProduct) product() (Product, error) {
	p := sp.Product
	if sp.Price != "" {
		d, err := decimal.NewFromString(sp.Price)
		if err != nil {
			return Product{}, fmt.Errorf("product %q price: %w", p.Name, err)
		}
		p.Price = d
	}
	return p, nil
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("seed parse failed: %w", err)
	}
	for i, m := range s.Mappings {
		if m.ProviderID == "" || m.ProviderMerchantID == "" || m.BranchID == "" {
			return nil, fmt.Errorf("seed mapping %d: provider, merchant_id and branch_id are required", i)
		}
	}
	return &s, nil
}

func (s *Seed) ApplyMemory(m *Memory) error {
	for _, b := range s.Branches {
		m.PutBranch(b)
	}
	for _, bm := range s.Mappings {
		m.PutBranchMapping(bm)
	}
	for _, sp := range s.Products {
		p, err := sp.product()
		if err != nil {
			return err
		}
		m.PutProduct(p)
	}
	return nil
}

func (s *Seed) ApplyPostgres(ctx context.Context, p *Postgres) error {
	for _, b := range s.Branches {
		if err := p.PutBranch(ctx, b); err != nil {
			return err
		}
	}
	for _, bm := range s.Mappings {
		if err := p.PutBranchMapping(ctx, bm); err != nil {
			return err
		}
	}
	for _, sp := range s.Products {
		pr, err := sp.product()
		if err != nil {
			return err
		}
		if err := p.PutProduct(ctx, pr); err != nil {
			return err
		}
	}
	return nil
}
