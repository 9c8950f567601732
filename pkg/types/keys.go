package types

import "fmt"

// OffsetKey builds the storage key for a committed offset. The client key
// is the combined "{clientKey}-{serverName}" prefix of a connection
// target.
func OffsetKey(clientKey, topic string) string {
	return fmt.Sprintf("topic:%s-%s:offset", clientKey, topic)
}

// TokenKey builds the storage key for a cached management-node token
func TokenKey(managementNodeID string) string {
	if managementNodeID == "" {
		managementNodeID = DefaultManagementNodeID
	}
	return fmt.Sprintf("management_node_%s_access_token", managementNodeID)
}

// AccessKey builds the storage key for an access-map entry
func AccessKey(registeredClient string) string {
	return fmt.Sprintf("access_%s", registeredClient)
}
