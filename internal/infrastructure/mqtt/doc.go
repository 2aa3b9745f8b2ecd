// Package mqtt publishes accepted CoV notifications to an MQTT broker.
//
// Each notification becomes one JSON message on
//
//	<prefix>/<device instance>/<object type>/<instance>
//
// e.g. bacnet/cov/10/analogValue/1. Messages are retained so a late
// subscriber sees the last value of every point.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.Sinks.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	fanout := notify.NewFanout(log, 0, mqtt.NewSink(client, cfg.Sinks.MQTT))
package mqtt
