package main

import (
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"ntt/internal/logger"
	"ntt/internal/types"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// Chain is the local chain id.
	Chain uint

	// Manager is the manager's address, hex encoded.
	Manager string

	// Mode is the custody mode, "locking" or "burning".
	Mode string

	// Token is the managed token address, hex encoded.
	Token string

	// TokenDecimals is the token's local decimal precision.
	TokenDecimals uint

	// Custody is the custody account address, hex encoded. Required in
	// locking mode.
	Custody string

	// Owner is the initial owner address, hex encoded.
	Owner string

	// Pauser is an optional delegated pauser address, hex encoded.
	Pauser string

	// OutboundLimit is the initial outbound rate limit.
	OutboundLimit uint64

	// AttestorKeys are trusted attestor ed25519 public keys, hex encoded.
	AttestorKeys stringList

	// InsecureAttest accepts unsigned attestation bodies. Development
	// only.
	InsecureAttest bool

	// Webhooks are transceiver delivery endpoints, "index=url" entries.
	Webhooks stringList

	// LogLevel is the minimum level for log output.
	LogLevel slog.Level

	// Parsed forms of the flag strings, filled by validate.
	managerAddr types.UniversalAddress
	tokenAddr   types.UniversalAddress
	custodyAddr types.UniversalAddress
	ownerAddr   types.UniversalAddress
	pauserAddr  types.UniversalAddress
	mode        types.Mode
	webhooks    map[uint8]string
}

// stringList collects repeated flag values.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseFlags parses and validates command-line flags into Config.
func parseFlags() (*Config, error) {
	cfg := &Config{}
	var level string

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.UintVar(&cfg.Chain, "chain", 0, "Local chain id")
	flag.StringVar(&cfg.Manager, "manager", "", "Manager address (hex, up to 32 bytes)")
	flag.StringVar(&cfg.Mode, "mode", "locking", "Custody mode: locking or burning")
	flag.StringVar(&cfg.Token, "token", "", "Managed token address (hex)")
	flag.UintVar(&cfg.TokenDecimals, "token-decimals", 8, "Token decimal precision")
	flag.StringVar(&cfg.Custody, "custody", "", "Custody account address (hex, locking mode)")
	flag.StringVar(&cfg.Owner, "owner", "", "Owner address (hex)")
	flag.StringVar(&cfg.Pauser, "pauser", "", "Delegated pauser address (hex, optional)")
	flag.Uint64Var(&cfg.OutboundLimit, "outbound-limit", 0, "Initial outbound rate limit")
	flag.Var(&cfg.AttestorKeys, "attestor-key", "Trusted attestor ed25519 public key, hex (repeatable)")
	flag.BoolVar(&cfg.InsecureAttest, "insecure-attest", false, "Accept unsigned attestations (development only)")
	flag.Var(&cfg.Webhooks, "webhook", "Transceiver delivery endpoint, index=url (repeatable)")
	flag.StringVar(&level, "log-level", "info", "Minimum log level: debug, info, warn, error")
	flag.Parse()

	var err error
	cfg.LogLevel, err = logger.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate parses the address flags and checks cross-field rules. The
// parsed forms land in the lowercase fields. Deeper rules (custody
// required in locking mode, non-zero owner) are the manager's to
// enforce; a config already persisted in the data directory wins over
// all of these anyway.
func (c *Config) validate() error {
	if c.Chain == 0 || c.Chain > 0xFFFF {
		return fmt.Errorf("invalid chain id: %d", c.Chain)
	}
	if c.TokenDecimals > 0xFF {
		return fmt.Errorf("invalid token decimals: %d", c.TokenDecimals)
	}

	mode, err := types.ParseMode(c.Mode)
	if err != nil {
		return err
	}
	c.mode = mode

	if c.managerAddr, err = parseAddrFlag("manager", c.Manager); err != nil {
		return err
	}
	if c.tokenAddr, err = parseAddrFlag("token", c.Token); err != nil {
		return err
	}
	if c.ownerAddr, err = parseAddrFlag("owner", c.Owner); err != nil {
		return err
	}

	if c.Custody != "" {
		if c.custodyAddr, err = parseAddrFlag("custody", c.Custody); err != nil {
			return err
		}
	}
	if c.Pauser != "" {
		if c.pauserAddr, err = parseAddrFlag("pauser", c.Pauser); err != nil {
			return err
		}
	}

	c.webhooks = make(map[uint8]string)
	for _, entry := range c.Webhooks {
		index, url, err := parseWebhook(entry)
		if err != nil {
			return err
		}
		c.webhooks[index] = url
	}

	return nil
}

// parseAddrFlag decodes one hex address flag.
func parseAddrFlag(name, value string) (types.UniversalAddress, error) {
	if value == "" {
		return types.UniversalAddress{}, fmt.Errorf("missing -%s", name)
	}

	addr, err := types.AddressFromHex(value)
	if err != nil {
		return types.UniversalAddress{}, fmt.Errorf("invalid -%s:\n%w", name, err)
	}

	return addr, nil
}

// parseWebhook splits an "index=url" webhook entry.
func parseWebhook(entry string) (uint8, string, error) {
	part, url, ok := strings.Cut(entry, "=")
	if !ok || url == "" {
		return 0, "", fmt.Errorf("invalid -webhook %q, want index=url", entry)
	}

	index, err := strconv.ParseUint(part, 10, 8)
	if err != nil {
		return 0, "", fmt.Errorf("invalid -webhook index %q:\n%w", part, err)
	}

	return uint8(index), url, nil
}
