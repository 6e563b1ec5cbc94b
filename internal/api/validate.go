package api

import (
	"fmt"
	"net/url"

	"depotroute/internal/model"
)

// validateOptimizeRequest checks shape only; coordinate-level order
// validation happens in the pipeline, which excludes bad orders instead of
// failing the run.
func validateOptimizeRequest(req model.OptimizeRequest) error {
	if req.Depot == nil && req.DepotID == "" {
		return fmt.Errorf("either depot or depotId is required")
	}
	if req.Depot != nil && !req.Depot.Location.Valid() {
		return fmt.Errorf("depot coordinates out of range")
	}
	if req.NumVehicles < 0 {
		return fmt.Errorf("numVehicles must not be negative")
	}
	if req.MinClusterSize < 0 {
		return fmt.Errorf("minClusterSize must not be negative")
	}
	if req.TimeLimitSec < 0 || req.TimeLimitSec > 600 {
		return fmt.Errorf("timeLimitSec must be between 0 and 600")
	}
	if len(req.Orders) > 0 && len(req.OrderIDs) > 0 {
		return fmt.Errorf("orders and orderIds are mutually exclusive")
	}
	for i, o := range req.Orders {
		if o.ID == "" {
			return fmt.Errorf("orders[%d]: id is required", i)
		}
	}
	return nil
}

func validateDepot(d model.Depot) error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !d.Location.Valid() {
		return fmt.Errorf("coordinates out of range")
	}
	if d.AvailableDrivers < 0 {
		return fmt.Errorf("availableDrivers must not be negative")
	}
	return nil
}

func validateOrders(orders []model.Order) error {
	if len(orders) == 0 {
		return fmt.Errorf("at least one order is required")
	}
	for i, o := range orders {
		if !o.Location.Valid() {
			return fmt.Errorf("orders[%d]: coordinates out of range", i)
		}
	}
	return nil
}

func validateSubscription(req model.SubscriptionRequest) error {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be a valid http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("at least one event type is required")
	}
	return nil
}
