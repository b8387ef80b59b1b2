package loyalty

import (
	"context"
	"fmt"
)

// ClientProgramView is a client's standing in one company's program.
type ClientProgramView struct {
	Company  *Company
	Program  Program
	Balance  Balance
	NextTier *Tier
}

// AvailableForClient returns the companies the client is affiliated with
// whose program has at least one tier. A spend-only program is not listed.
// An unknown client yields an empty list.
func (e *Engine) AvailableForClient(ctx context.Context, clientID ClientID) ([]Company, error) {
	client, err := e.Directory.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client %s: %w", clientID, err)
	}
	if client == nil {
		return []Company{}, nil
	}

	programs, err := e.Store.ListPrograms(ctx, client.CompanyIDs())
	if err != nil {
		return nil, fmt.Errorf("list programs for client %s: %w", clientID, err)
	}

	companies := make([]Company, 0, len(programs))
	for _, p := range programs {
		if len(p.Tiers) == 0 {
			continue
		}
		company, err := e.Directory.GetCompany(ctx, p.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("load company %s: %w", p.CompanyID, err)
		}
		if company == nil {
			continue
		}
		companies = append(companies, *company)
	}
	return companies, nil
}

// ClientProgram returns the client's balance with the company together
// with the tier list. Unlike AvailableForClient it reports missing
// entities as errors.
func (e *Engine) ClientProgram(ctx context.Context, companyID CompanyID, clientID ClientID) (*ClientProgramView, error) {
	client, err := e.Directory.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load client %s: %w", clientID, err)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	program, err := e.Store.GetProgram(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load program for company %s: %w", companyID, err)
	}
	if program == nil {
		return nil, fmt.Errorf("%w: company %s", ErrProgramNotFound, companyID)
	}

	company, err := e.Directory.GetCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load company %s: %w", companyID, err)
	}

	b, err := e.loadBalance(ctx, companyID, clientID)
	if err != nil {
		return nil, err
	}

	view := &ClientProgramView{Company: company, Program: *program, Balance: b}
	for _, t := range program.Tiers {
		if t.PointsRequired > b.Points {
			tier := t
			view.NextTier = &tier
			break
		}
	}
	return view, nil
}
