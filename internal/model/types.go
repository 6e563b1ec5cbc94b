// Package model holds the domain types shared across the optimization service.
package model

import "time"

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the WGS84 envelope.
// Invalid points are rejected, never clamped.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// OrderNode ties an external order id to its delivery coordinate. It is
// immutable for the duration of one optimization run.
type OrderNode struct {
	ID       string   `json:"id"`
	Location GeoPoint `json:"location"`
}

// Depot is a dispatch origin with a driver pool.
type Depot struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Location         GeoPoint `json:"location"`
	AvailableDrivers int      `json:"availableDrivers"`
}

// Order is the stored shape of a delivery order.
type Order struct {
	ID           string   `json:"id"`
	DepotID      string   `json:"depotId"`
	OrderNumber  string   `json:"orderNumber,omitempty"`
	CustomerName string   `json:"customerName,omitempty"`
	Address      string   `json:"address,omitempty"`
	Location     GeoPoint `json:"location"`
	Status       string   `json:"status"`
	ClusterID    *int     `json:"clusterId,omitempty"`
}

// Node returns the routing view of the order.
func (o Order) Node() OrderNode { return OrderNode{ID: o.ID, Location: o.Location} }

// OptimizeRequest is the optimize endpoint payload. Orders may be given
// inline as (id, coordinate) pairs, or looked up by id / by depot.
type OptimizeRequest struct {
	DepotID        string      `json:"depotId,omitempty"`
	Depot          *Depot      `json:"depot,omitempty"`
	OrderIDs       []string    `json:"orderIds,omitempty"`
	Orders         []OrderNode `json:"orders,omitempty"`
	UseClustering  bool        `json:"useClustering"`
	MinClusterSize int         `json:"minClusterSize,omitempty"`
	NumVehicles    int         `json:"numVehicles,omitempty"`
	Profile        string      `json:"profile,omitempty"`
	TimeLimitSec   int         `json:"timeLimitSec,omitempty"`
}

// RouteStop is a single visit on an optimized route.
type RouteStop struct {
	OrderID      string   `json:"orderId"`
	OrderNumber  string   `json:"orderNumber,omitempty"`
	CustomerName string   `json:"customerName,omitempty"`
	Address      string   `json:"address,omitempty"`
	Location     GeoPoint `json:"location"`
	Sequence     int      `json:"sequence"`
}

// OptimizedRoute is one vehicle's route in external units (km, minutes).
type OptimizedRoute struct {
	VehicleID                int         `json:"vehicleId"`
	Stops                    []RouteStop `json:"stops"`
	NumStops                 int         `json:"numStops"`
	TotalDistanceKM          float64     `json:"totalDistanceKm"`
	EstimatedDurationMinutes float64     `json:"estimatedDurationMinutes"`
	ClusterID                *int        `json:"clusterId,omitempty"`
}

// OptimizeResult is the full response of one optimization run.
type OptimizeResult struct {
	RunID                string           `json:"runId"`
	Success              bool             `json:"success"`
	Routes               []OptimizedRoute `json:"routes"`
	TotalRoutes          int              `json:"totalRoutes"`
	TotalOrders          int              `json:"totalOrders"`
	TotalDistanceKM      float64          `json:"totalDistanceKm"`
	TotalDurationMinutes float64          `json:"totalDurationMinutes"`
	UnassignedOrders     []string         `json:"unassignedOrders"`
	SolverStatus         string           `json:"solverStatus"`
	UsedClustering       bool             `json:"usedClustering"`
	NumClusters          *int             `json:"numClusters,omitempty"`
	OutlierCount         *int             `json:"outlierCount,omitempty"`
	Metadata             map[string]any   `json:"metadata,omitempty"`
}

// RunRecord is a persisted optimization run summary.
type RunRecord struct {
	ID        string         `json:"id"`
	DepotID   string         `json:"depotId"`
	CreatedAt time.Time      `json:"createdAt"`
	Result    OptimizeResult `json:"result"`
}

// Subscription registers a webhook endpoint for optimization events.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// SubscriptionRequest is the create-subscription payload.
type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}
