// assignctl runs one assignment+movement cycle for a single order: the
// one named with -order, or the oldest eligible one. Exit codes: 0 on
// success, 1 when no eligible order was found, 2 on database error, 3
// on unexpected error.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"fulfillsync/internal/cache"
	"fulfillsync/internal/config"
	"fulfillsync/internal/erp"
	"fulfillsync/internal/marketplace"
	"fulfillsync/internal/model"
	"fulfillsync/internal/repository"
	"fulfillsync/internal/resolver"
	"fulfillsync/internal/service"

	_ "github.com/go-sql-driver/mysql"
)

const (
	exitOK         = 0
	exitNoEligible = 1
	exitDBError    = 2
	exitUnexpected = 3
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	orderID := flag.String("order", "", "external order id (defaults to the oldest eligible order)")
	flag.Parse()

	code := run(*orderID)
	os.Exit(code)
}

func run(orderID string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Unexpected error: %v", r)
			code = exitUnexpected
		}
	}()

	cfg := config.MustLoad()

	repo, err := openRepository(cfg)
	if err != nil {
		log.Printf("Database error: %v", err)
		return exitDBError
	}
	defer repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	order, err := pickOrder(ctx, repo, orderID)
	if err != nil {
		log.Printf("Database error: %v", err)
		return exitDBError
	}
	if order == nil {
		log.Println("No eligible order found")
		return exitNoEligible
	}

	feed := marketplace.NewClient(marketplace.ClientConfig{
		BaseURL:     cfg.Marketplace.BaseURL,
		AccessToken: cfg.Marketplace.AccessToken,
		SellerID:    cfg.Marketplace.SellerID,
		Timeout:     cfg.Marketplace.Timeout,
	})

	overrides, err := resolver.LoadOverrides(cfg.Resolver.OverridesPath)
	if err != nil {
		log.Printf("Unexpected error: %v", err)
		return exitUnexpected
	}
	res := resolver.New(feed, cache.NewLRUCache(cfg.Cache.MaxSize), resolver.Config{
		Overrides:         overrides,
		PlaceholderSuffix: cfg.Resolver.PlaceholderSuffix,
	})

	stockClient := erp.NewStockClient(erp.StockClientConfig{
		BaseURL:    cfg.ERP.BaseURL,
		APIKey:     cfg.ERP.APIKey,
		Tenant:     cfg.ERP.Tenant,
		Database:   cfg.ERP.Database,
		Timeout:    cfg.ERP.StockTimeout,
		Retries:    cfg.ERP.StockRetries,
		RetryDelay: cfg.ERP.StockRetryDelay,
	})
	movementClient := erp.NewMovementClient(erp.MovementClientConfig{
		BaseURL:  cfg.ERP.BaseURL,
		APIKey:   cfg.ERP.APIKey,
		Tenant:   cfg.ERP.Tenant,
		Database: cfg.ERP.Database,
	})

	assigner := service.NewAssignmentService(repo, res, stockClient, cfg.Assignment.DepositList())
	mover := service.NewMovementService(repo, movementClient, cfg.ERP.MovementDestination)

	if !order.Assigned {
		group, err := packGroup(ctx, repo, order)
		if err != nil {
			log.Printf("Database error: %v", err)
			return exitDBError
		}
		deposit, err := assigner.Assign(ctx, group)
		if err != nil {
			log.Printf("Database error: %v", err)
			return exitDBError
		}
		if deposit == "" {
			log.Printf("Order %s: no deposit can cover all lines, left unassigned", order.ExternalID)
			return exitOK
		}
		log.Printf("Order %s assigned to %s", order.ExternalID, deposit)
	}

	// Reload for the movement phase so claim state is current.
	order, err = repo.GetByExternalID(ctx, order.ExternalID)
	if err != nil {
		log.Printf("Database error: %v", err)
		return exitDBError
	}

	number, err := mover.Post(ctx, order)
	if err != nil {
		log.Printf("Database error: %v", err)
		return exitDBError
	}
	if number != "" {
		log.Printf("Order %s: movement %s", order.ExternalID, number)
	} else {
		log.Printf("Order %s: no movement posted (see observacion_movimiento)", order.ExternalID)
	}
	return exitOK
}

func openRepository(cfg *config.Config) (repository.OrderRepository, error) {
	switch cfg.Database.Type {
	case "mysql":
		db, err := sql.Open("mysql", cfg.Database.MySQLDSN())
		if err != nil {
			return nil, err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		return repository.NewMySQLOrderRepository(db)
	case "postgres", "postgresql":
		return repository.NewPostgresOrderRepository(cfg.Database.PostgresDSN())
	default:
		return repository.NewSQLiteOrderRepository(cfg.Database.Path)
	}
}

func pickOrder(ctx context.Context, repo repository.OrderRepository, orderID string) (*model.Order, error) {
	if orderID == "" {
		return repo.OldestEligible(ctx)
	}
	order, err := repo.GetByExternalID(ctx, orderID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return order, nil
}

// packGroup collects the unassigned pack mates of an order so the whole
// pack is decided together.
func packGroup(ctx context.Context, repo repository.OrderRepository, order *model.Order) ([]*model.Order, error) {
	group := []*model.Order{order}
	if order.PackID == "" {
		return group, nil
	}

	pending, err := repo.ListPendingAssignment(ctx)
	if err != nil {
		return nil, err
	}
	for _, other := range pending {
		if other.PackID == order.PackID && other.ExternalID != order.ExternalID {
			group = append(group, other)
		}
	}
	if len(group) > 1 {
		log.Printf("Order %s: pack %s has %d members, assigning together", order.ExternalID, order.PackID, len(group))
	}
	return group, nil
}
