// Command admin manages the world database directly: founding and deleting
// settlements, granting garrisons and checking the snapshot chain.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"ownrealm/pkg/core"
	"ownrealm/pkg/game"
	"ownrealm/pkg/store"
)

var st *store.Store

func main() {
	dbFile := "./data/ownrealm.db"
	if v := os.Getenv("OWNREALM_DB"); v != "" {
		dbFile = v
	}
	driver := store.DriverPure
	if v := os.Getenv("OWNREALM_DB_DRIVER"); v != "" {
		driver = v
	}

	ctx := context.Background()
	var err error
	st, err = store.Open(ctx, driver, dbFile, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", dbFile, err)
		os.Exit(1)
	}
	defer st.Close()

	// Restrict the database to the owner
	os.Chmod(dbFile, 0600)

	// CLI Argument Mode (Non-Interactive)
	if len(os.Args) > 1 {
		if err := handleCLI(ctx, os.Args[1:]); err != nil {
			fmt.Println("Error:", err)
			os.Exit(1)
		}
		return
	}

	// Main Menu Loop (Interactive)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Println("\n========================================")
		fmt.Println("   OWNREALM ADMINISTRATION CONSOLE")
		fmt.Println("========================================")
		fmt.Println("1. List Settlements")
		fmt.Println("2. Found Settlement")
		fmt.Println("3. Delete Settlement")
		fmt.Println("4. Verify Snapshots")
		fmt.Println("5. Exit")
		fmt.Println("========================================")
		fmt.Print("Select Option: ")

		if !scanner.Scan() {
			break
		}
		var err error
		switch strings.TrimSpace(scanner.Text()) {
		case "1":
			err = listSettlements(ctx)
		case "2":
			err = foundInteractive(ctx, scanner)
		case "3":
			err = deleteInteractive(ctx, scanner)
		case "4":
			err = verifySnapshots(ctx)
		case "5":
			fmt.Println("Exiting.")
			return
		default:
			fmt.Println("Invalid option.")
		}
		if err != nil {
			fmt.Println("Error:", err)
		}
	}
}

// --- CLI Logic ---

func handleCLI(ctx context.Context, args []string) error {
	switch args[0] {
	case "list":
		return listSettlements(ctx)
	case "found":
		if len(args) != 2 && len(args) != 4 {
			return fmt.Errorf("usage: found <name> [x y]")
		}
		x, y := rand.Intn(100), rand.Intn(100)
		if len(args) == 4 {
			var err error
			if x, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("bad x %q", args[2])
			}
			if y, err = strconv.Atoi(args[3]); err != nil {
				return fmt.Errorf("bad y %q", args[3])
			}
		}
		return found(ctx, args[1], x, y)
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: delete <id> CONFIRM")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid settlement id")
		}
		if len(args) < 3 || args[2] != "CONFIRM" {
			fmt.Printf("To delete settlement %d, pass 'CONFIRM' after the id.\n", id)
			fmt.Printf("Example: %s delete %d CONFIRM\n", os.Args[0], id)
			return nil
		}
		return performDelete(ctx, id)
	case "garrison":
		if len(args) < 3 {
			return fmt.Errorf("usage: garrison <id> <unit=count>...")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid settlement id")
		}
		return grantUnits(ctx, id, args[2:])
	case "snapshots":
		return verifySnapshots(ctx)
	}
	return fmt.Errorf("unknown command; available: list, found, delete, garrison, snapshots")
}

// --- Settlements ---

func listSettlements(ctx context.Context) error {
	list, err := st.ListSettlements(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	fmt.Println("\nID  | Name                 | Pos     | Wood  | Stone | Ore   | Gold  | Army")
	fmt.Println("----|----------------------|---------|-------|-------|-------|-------|------")
	for _, s := range list {
		full, err := st.Settlement(ctx, s.ID, now)
		if err != nil {
			return err
		}
		army := 0
		for _, n := range full.Units {
			army += n
		}
		r := full.Resources
		fmt.Printf("%-3d | %-20s | %-7s | %-5d | %-5d | %-5d | %-5d | %d\n",
			s.ID, s.Name, fmt.Sprintf("%d/%d", s.X, s.Y), r.Wood, r.Stone, r.Ore, r.Gold, army)
	}
	return nil
}

func found(ctx context.Context, name string, x, y int) error {
	id, err := st.CreateSettlement(ctx, name, x, y, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("[+] Settlement '%s' founded at %d/%d (ID: %d)\n", name, x, y, id)
	return nil
}

func foundInteractive(ctx context.Context, scanner *bufio.Scanner) error {
	fmt.Println("\n--- FOUND SETTLEMENT ---")
	fmt.Print("Name: ")
	scanner.Scan()
	name := strings.TrimSpace(scanner.Text())
	fmt.Print("Position x y (blank for random): ")
	scanner.Scan()
	x, y := rand.Intn(100), rand.Intn(100)
	if fields := strings.Fields(scanner.Text()); len(fields) == 2 {
		var err error
		if x, err = strconv.Atoi(fields[0]); err != nil {
			return fmt.Errorf("bad x %q", fields[0])
		}
		if y, err = strconv.Atoi(fields[1]); err != nil {
			return fmt.Errorf("bad y %q", fields[1])
		}
	}
	return found(ctx, name, x, y)
}

func deleteInteractive(ctx context.Context, scanner *bufio.Scanner) error {
	fmt.Println("\n--- DELETE SETTLEMENT ---")
	fmt.Print("Enter Settlement ID to DELETE: ")
	scanner.Scan()
	id, err := strconv.ParseInt(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id")
	}

	fmt.Printf("WARNING: This wipes settlement %d with its queues, garrison and armies on the road.\n", id)
	fmt.Print("Type 'CONFIRM' to proceed: ")
	scanner.Scan()
	if strings.TrimSpace(scanner.Text()) != "CONFIRM" {
		fmt.Println("Deletion cancelled.")
		return nil
	}
	return performDelete(ctx, id)
}

func performDelete(ctx context.Context, id int64) error {
	if err := st.DeleteSettlement(ctx, id); err != nil {
		return err
	}
	fmt.Println("Settlement deleted.")
	return nil
}

func grantUnits(ctx context.Context, id int64, pairs []string) error {
	delta := make(map[string]int, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("want unit=count, got %q", p)
		}
		if _, known := game.Unit(key); !known {
			return fmt.Errorf("unknown unit %q", key)
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("bad count in %q", p)
		}
		delta[key] += n
	}
	err := st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.LockSettlements(ctx, id); err != nil {
			return err
		}
		return tx.AddUnits(ctx, id, delta)
	})
	if err != nil {
		return err
	}
	fmt.Printf("[+] Garrison of %d updated\n", id)
	return nil
}

// --- Snapshots ---

func verifySnapshots(ctx context.Context) error {
	snaps, err := st.Snapshots(ctx)
	if err != nil {
		return err
	}
	n, verr := st.VerifySnapshots(ctx)
	fmt.Printf("\nWorld %s: %d snapshots, %d verified\n", st.WorldID(), len(snaps), n)
	for _, sn := range snaps {
		raw, err := core.Decompress(sn.Blob)
		if err != nil {
			return fmt.Errorf("snapshot %d: %w", sn.DayID, err)
		}
		var lv structpb.ListValue
		if err := proto.Unmarshal(raw, &lv); err != nil {
			return fmt.Errorf("snapshot %d: %w", sn.DayID, err)
		}
		fmt.Printf("%-4d tick %-8d %s  %3d settlements  %6d bytes  %s\n",
			sn.DayID, sn.Tick, sn.CreatedAt.Format(time.RFC3339), len(lv.Values), len(sn.Blob), shortHash(sn.Hash))
	}
	return verr
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
