package mqtt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ec = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_mqtt_event_count",
		Help: "The number of received messages by the MQTT backend (per outcome).",
	}, []string{"outcome"})

	pc = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_mqtt_publish_count",
		Help: "The number of published downlinks by the MQTT backend (per result).",
	}, []string{"result"})

	mqttc = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_mqtt_connect_count",
		Help: "The number of times the MQTT backend connected to the MQTT broker.",
	})

	mqttd = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_mqtt_disconnect_count",
		Help: "The number of times the MQTT backend disconnected from the MQTT broker.",
	})
)

func mqttEventCounter(o string) prometheus.Counter {
	return ec.With(prometheus.Labels{"outcome": o})
}

func mqttPublishCounter(r string) prometheus.Counter {
	return pc.With(prometheus.Labels{"result": r})
}

func mqttConnectCounter() prometheus.Counter {
	return mqttc
}

func mqttDisconnectCounter() prometheus.Counter {
	return mqttd
}
