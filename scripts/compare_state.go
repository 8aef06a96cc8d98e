//go:build ignore

package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"ntt/internal/storage"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db1_path> <db2_path>\n", os.Args[0])
		os.Exit(1)
	}

	db1Path := os.Args[1]
	db2Path := os.Args[2]

	db1, err := storage.New(db1Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db1: %v\n", err)
		os.Exit(1)
	}
	defer db1.Close()

	db2, err := storage.New(db2Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db2: %v\n", err)
		os.Exit(1)
	}
	defer db2.Close()

	entries1 := collectEntries(db1)
	entries2 := collectEntries(db2)

	fmt.Printf("DB1 (%s): %d entries\n", db1Path, len(entries1))
	fmt.Printf("DB2 (%s): %d entries\n", db2Path, len(entries2))

	missing1, missing2, different := compare(entries1, entries2)

	if len(missing1) == 0 && len(missing2) == 0 && len(different) == 0 {
		fmt.Println("\n✓ States are identical!")
		os.Exit(0)
	}

	fmt.Println("\n✗ States differ:")

	if len(missing1) > 0 {
		fmt.Printf("  - Entries in DB1 but not in DB2: %d\n", len(missing1))
		printKeys(missing1)
	}

	if len(missing2) > 0 {
		fmt.Printf("  - Entries in DB2 but not in DB1: %d\n", len(missing2))
		printKeys(missing2)
	}

	if len(different) > 0 {
		fmt.Printf("  - Entries with different content: %d\n", len(different))
		printKeys(different)
	}

	os.Exit(1)
}

func collectEntries(db *storage.Store) map[string][]byte {
	entries := make(map[string][]byte)

	db.Iterate(func(key, value []byte) error {
		valueCopy := make([]byte, len(value))
		copy(valueCopy, value)
		entries[string(key)] = valueCopy

		return nil
	})

	return entries
}

func compare(entries1, entries2 map[string][]byte) (missing1, missing2, different []string) {
	// Find entries in entries1 but not in entries2
	for key := range entries1 {
		if _, ok := entries2[key]; !ok {
			missing1 = append(missing1, key)
		}
	}

	// Find entries in entries2 but not in entries1
	for key := range entries2 {
		if _, ok := entries1[key]; !ok {
			missing2 = append(missing2, key)
		}
	}

	// Find entries with different content
	for key, data1 := range entries1 {
		if data2, ok := entries2[key]; ok {
			if !bytes.Equal(data1, data2) {
				different = append(different, key)
			}
		}
	}

	return
}

func printKeys(keys []string) {
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("      [%s] %s\n", family(key), formatKey(key))
	}
}

// family names the protocol state the key belongs to.
func family(key string) string {
	switch {
	case strings.HasPrefix(key, "c:"):
		return "config"
	case strings.HasPrefix(key, "p:"):
		return "peer"
	case strings.HasPrefix(key, "tp:"):
		return "transceiver peer"
	case strings.HasPrefix(key, "t:"):
		return "transceiver"
	case strings.HasPrefix(key, "i:"):
		return "inbox"
	case strings.HasPrefix(key, "o:"):
		return "outbox"
	case strings.HasPrefix(key, "a!"):
		return "supply"
	case strings.HasPrefix(key, "a:"):
		return "account"
	default:
		return "unknown"
	}
}

// formatKey renders a store key: the printable prefix as-is, the binary
// suffix (chain IDs, sequence numbers, digests, addresses) as hex.
func formatKey(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' || key[i] == '!' {
			suffix := key[i+1:]
			if printable(suffix) {
				return key
			}
			return key[:i+1] + fmt.Sprintf("%x", suffix)
		}
	}

	return fmt.Sprintf("%x", key)
}

func printable(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}

	return true
}
