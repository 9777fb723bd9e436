package main

import "github.com/stv0g/robot-teleop/common"

type relayMessage struct {
	*common.SignalingMessage

	Sender *Connection
}

func (msg *relayMessage) CollectMetrics() {
	p := msg.Message
	switch {
	case p == nil:
		metricMessagesReceived.WithLabelValues(string(msg.Type)).Inc()
	case p.Failure:
		metricMessagesReceived.WithLabelValues("failure").Inc()
	case p.Candidate != nil:
		metricMessagesReceived.WithLabelValues("candidate").Inc()
	case p.Description != nil:
		metricMessagesReceived.WithLabelValues("description").Inc()
	}
}
