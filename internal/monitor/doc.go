// Package monitor defines the domain types, ports, and error taxonomy shared
// by the competitor-monitoring scheduler, processor, stores, and API.
package monitor
