// Package influxdb records state history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring. The bridge writes every
// confirmed device value through WriteStateChange.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteStateChange("devices.kitchen_thermo1.temperature", 21.5, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; batch errors
// are delivered to the SetOnError callback.
package influxdb
