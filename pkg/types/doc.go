// Package types holds the public constant namespaces of the tracker:
// event types, commerce event and product action types, promotion types,
// identity types and wire message types. Each enum knows its display name;
// action types also know the name used when expanding commerce events.
package types
