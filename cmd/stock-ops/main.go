package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/workflow"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

func main() {
	app := &cli.App{
		Name:  "stock-ops",
		Usage: "operational commands for the procurement stock ledger",
		Commands: []*cli.Command{
			{
				Name:  "allocate",
				Usage: "re-drive allocation for a request that is past its approval edge without an exit",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "request-id", Required: true, Usage: "request id"},
					&cli.IntFlag{Name: "user-id", Value: 0, Usage: "operator user id recorded in history"},
					&cli.StringFlag{Name: "user-name", Value: "stock-ops", Usage: "operator name recorded in history"},
				},
				Action: allocateAction,
			},
			{
				Name:  "reconcile",
				Usage: "compare lots, allocations and stock summaries and record drift",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "warehouse-id", Value: 0, Usage: "warehouse id (0 = all warehouses)"},
					&cli.StringFlag{Name: "xlsx", Usage: "optional path of an xlsx drift report"},
				},
				Action: reconcileAction,
			},
			{
				Name:  "dispatch-outbox",
				Usage: "publish pending notifications once and exit",
				Action: func(c *cli.Context) error {
					db, err := connect()
					if err != nil {
						return err
					}
					n := workflow.NewOutboxDispatcher(db, config.GetLogger()).DispatchOnce(c.Context)
					config.ClosePubSub()
					fmt.Printf("attempted %d notification(s)\n", n)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect() (*gorm.DB, error) {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	return db, nil
}

func allocateAction(c *cli.Context) error {
	db, err := connect()
	if err != nil {
		return err
	}
	allocator := workflow.NewAllocator(db, config.GetLogger())
	actor := models.Actor{UserId: c.Int("user-id"), UserName: strings.TrimSpace(c.String("user-name"))}

	ctx, cancel := context.WithTimeout(c.Context, 2*time.Minute)
	defer cancel()
	exit, err := allocator.Allocate(ctx, c.Int("request-id"), actor, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Printf("exit %s issued for request %d: %d unit(s), cost %s\n", exit.Folio, exit.RequestId, exit.TotalQty, exit.TotalCost.StringFixed(4))
	return nil
}

func reconcileAction(c *cli.Context) error {
	db, err := connect()
	if err != nil {
		return err
	}
	drifts, err := workflow.NewReconciler(db, config.GetLogger()).Check(c.Context, c.Int("warehouse-id"))
	if err != nil {
		return err
	}
	for _, d := range drifts {
		fmt.Printf("%-24s warehouse=%d product=%d lot=%d expected=%d current=%d\n",
			d.CheckType, d.WarehouseId, d.ProductId, d.LotId, d.ExpectedQty, d.CurrentQty)
	}
	fmt.Printf("%d drift(s)\n", len(drifts))

	if path := strings.TrimSpace(c.String("xlsx")); path != "" {
		if err := writeDriftWorkbook(drifts, path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}
