package session

import (
	"sort"
	"strings"
	"unicode"

	"github.com/BearBump/LastMile/internal/models"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	RoleAdmin      = "Admin"
	RoleManager    = "Manager"
	RoleDispatcher = "Dispatcher"
	RoleWarehouse  = "Warehouse"
	RoleDriver     = "Driver"
	RoleSupport    = "Support"
	RoleFinance    = "Finance"
	RoleViewer     = "Viewer"
	RoleRecipient  = "Recipient"
)

const (
	PermStatusOptionsRead = "status-options:read"
	PermStatsRead         = "stats:read"
	PermShipmentsRead     = "shipments:read"
	PermShipmentRead      = "shipment:read"
	PermShipmentsAssign   = "shipments:assign"
	PermLabelRead         = "label:read"
	PermAWBUpdate         = "awb:update"
	PermLogsReadSelf      = "logs:read:self"
	PermLogsReadAll       = "logs:read:all"
	PermNotificationsRead = "notifications:read"
	PermChatRead          = "chat:read"
	PermChatWrite         = "chat:write"
	PermDriversSync       = "drivers:sync"
	PermPostisSync        = "postis:sync"
	PermUsersRead         = "users:read"
	PermUsersWrite        = "users:write"
)

var roles = []string{
	RoleAdmin, RoleManager, RoleDispatcher, RoleWarehouse, RoleDriver,
	RoleSupport, RoleFinance, RoleViewer, RoleRecipient,
}

// base набор, который есть у всех "внутренних" ролей
var staffBase = []string{
	PermStatusOptionsRead, PermStatsRead, PermShipmentsRead, PermShipmentRead,
	PermNotificationsRead, PermChatRead, PermChatWrite,
}

var rolePermissions = map[string][]string{
	RoleAdmin: with(staffBase, PermShipmentsAssign, PermLabelRead, PermAWBUpdate,
		PermLogsReadAll, PermLogsReadSelf, PermDriversSync, PermPostisSync, PermUsersRead, PermUsersWrite),
	RoleManager: with(staffBase, PermShipmentsAssign, PermLabelRead, PermAWBUpdate,
		PermLogsReadAll, PermLogsReadSelf, PermUsersRead, PermPostisSync),
	RoleDispatcher: with(staffBase, PermShipmentsAssign, PermLabelRead, PermAWBUpdate,
		PermLogsReadAll, PermLogsReadSelf, PermUsersRead, PermPostisSync),
	RoleWarehouse: with(staffBase, PermShipmentsAssign, PermLabelRead, PermAWBUpdate,
		PermLogsReadSelf, PermPostisSync),
	RoleDriver:  with(staffBase, PermLabelRead, PermAWBUpdate, PermLogsReadSelf),
	RoleSupport: with(staffBase, PermLabelRead, PermLogsReadAll, PermLogsReadSelf, PermPostisSync),
	RoleFinance: with(staffBase, PermLogsReadAll, PermLogsReadSelf),
	RoleViewer:  with(staffBase, PermLabelRead, PermLogsReadSelf),
	RoleRecipient: {
		PermShipmentsRead, PermShipmentRead, PermNotificationsRead, PermChatRead, PermChatWrite,
	},
}

// Aliases after diacritic folding and upper-casing.
var roleAliases = map[string]string{
	"ADMIN":         RoleAdmin,
	"ADMINISTRATOR": RoleAdmin,
	"MANAGER":       RoleManager,
	"DISPATCHER":    RoleDispatcher,
	"DISPECER":      RoleDispatcher,
	"WAREHOUSE":     RoleWarehouse,
	"DEPOZIT":       RoleWarehouse,
	"DRIVER":        RoleDriver,
	"CURIER":        RoleDriver,
	"SOFER":         RoleDriver,
	"SUPPORT":       RoleSupport,
	"SUPORT":        RoleSupport,
	"FINANCE":       RoleFinance,
	"FINANCIAR":     RoleFinance,
	"VIEWER":        RoleViewer,
	"VIZUALIZATOR":  RoleViewer,
	"RECIPIENT":     RoleRecipient,
	"CUSTOMER":      RoleRecipient,
	"CLIENT":        RoleRecipient,
}

func with(base []string, extra ...string) []string {
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	return append(out, extra...)
}

var fold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldKey(raw string) string {
	s, _, err := transform.String(fold, strings.TrimSpace(raw))
	if err != nil {
		s = strings.TrimSpace(raw)
	}
	return strings.ToUpper(s)
}

// NormaliseRole maps aliases (Romanian spellings, any case, with or without
// diacritics) to a canonical role. Unknown or empty input yields Driver.
func NormaliseRole(raw string) string {
	if role, ok := roleAliases[foldKey(raw)]; ok {
		return role
	}
	return RoleDriver
}

// Roles lists the canonical roles.
func Roles() []string {
	return append([]string{}, roles...)
}

// PermissionsForRole returns the sorted permission set of the (normalised) role.
func PermissionsForRole(role string) []string {
	perms := append([]string{}, rolePermissions[NormaliseRole(role)]...)
	sort.Strings(perms)
	return perms
}

// RoleInfos describes every role for the roles screen when /roles is unreachable.
func RoleInfos() []models.RoleInfo {
	byRole := map[string][]string{}
	for alias, role := range roleAliases {
		if strings.EqualFold(alias, role) {
			continue
		}
		byRole[role] = append(byRole[role], alias)
	}
	out := make([]models.RoleInfo, 0, len(roles))
	for _, r := range roles {
		aliases := byRole[r]
		sort.Strings(aliases)
		out = append(out, models.RoleInfo{Role: r, Permissions: PermissionsForRole(r), Aliases: aliases})
	}
	return out
}

// HasPermission checks the user's permissions; when the server gave none, the
// role table is used. logs:read:all implies logs:read:self.
func HasPermission(u *models.User, perm string) bool {
	if u == nil || perm == "" {
		return false
	}
	perms := u.Permissions
	if len(perms) == 0 {
		perms = rolePermissions[NormaliseRole(u.Role)]
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
		if perm == PermLogsReadSelf && p == PermLogsReadAll {
			return true
		}
	}
	return false
}
