// Package bridge exposes a TMCL driver on an MQTT broker. Commands arrive
// as JSON on <topic>/cmd and results are published on <topic>/reply.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sergev/tmcl/tmcl"
)

// Command is a request received from the broker
type Command struct {
	ID    string `json:"id"`
	Op    string `json:"op"`
	Motor uint8  `json:"motor"`
	Type  uint8  `json:"type"`
	Port  uint8  `json:"port"`
	Bank  uint8  `json:"bank"`
	Value int32  `json:"value"`
}

// Reply is published when a command completes
type Reply struct {
	ID    string `json:"id"`
	Value int32  `json:"value"`
	Error string `json:"error,omitempty"`
}

// Submitter runs raw TMCL requests; *tmcl.Driver implements it
type Submitter interface {
	Submit(req tmcl.Request, cb ...tmcl.Callback) *tmcl.Call
}

var ErrUnknownOp = errors.New("unknown operation")

// Config holds the broker connection settings
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Logger   *slog.Logger
}

// Bridge forwards commands from the broker to the driver
type Bridge struct {
	drv     Submitter
	topic   string
	log     *slog.Logger
	client  mqtt.Client
	publish func(topic string, payload []byte)
}

// New creates a bridge; Start connects it
func New(drv Submitter, cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{drv: drv, topic: cfg.Topic, log: logger}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.OnConnect = func(client mqtt.Client) {
		b.log.Info("connected to MQTT broker", "broker", cfg.Broker)
		// Subscriptions are lost on reconnect with a clean session
		b.subscribe(client)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		b.log.Warn("connection to MQTT broker lost", "err", err)
	}
	b.client = mqtt.NewClient(opts)
	b.publish = func(topic string, payload []byte) {
		token := b.client.Publish(topic, 1, false, payload)
		go func() {
			if token.Wait() && token.Error() != nil {
				b.log.Error("failed to publish reply", "topic", topic, "err", token.Error())
			}
		}()
	}
	return b
}

// Start connects to the broker. With connect retry enabled it returns
// once the first attempt is made; the bridge subscribes when connected.
func (b *Bridge) Start() error {
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker
func (b *Bridge) Stop() {
	b.client.Unsubscribe(b.topic + "/cmd").WaitTimeout(time.Second)
	b.client.Disconnect(250)
}

func (b *Bridge) subscribe(client mqtt.Client) {
	topic := b.topic + "/cmd"
	token := client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		b.handle(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		b.log.Error("failed to subscribe", "topic", topic, "err", token.Error())
		return
	}
	b.log.Info("subscribed", "topic", topic)
}

// handle decodes one command and runs it; the reply goes out when
// the command completes
func (b *Bridge) handle(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.log.Warn("malformed command", "err", err)
		b.reply(Reply{Error: fmt.Sprintf("malformed command: %v", err)})
		return
	}

	req, err := request(cmd)
	if err != nil {
		b.reply(Reply{ID: cmd.ID, Error: err.Error()})
		return
	}
	b.log.Debug("command", "id", cmd.ID, "op", cmd.Op, "request", req)
	b.drv.Submit(req, func(value int32, err error) {
		r := Reply{ID: cmd.ID, Value: value}
		if err != nil {
			r.Error = err.Error()
		}
		b.reply(r)
	})
}

func (b *Bridge) reply(r Reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		b.log.Error("failed to encode reply", "err", err)
		return
	}
	b.publish(b.topic+"/reply", payload)
}

// request translates a command to a TMCL request
func request(cmd Command) (tmcl.Request, error) {
	var req tmcl.Request
	axis := true
	switch cmd.Op {
	case "rotate_right":
		req = tmcl.Request{Command: tmcl.CMD_ROR, Value: cmd.Value}
	case "rotate_left":
		req = tmcl.Request{Command: tmcl.CMD_ROL, Value: cmd.Value}
	case "stop":
		req = tmcl.Request{Command: tmcl.CMD_MST}
	case "move_to":
		req = tmcl.Request{Command: tmcl.CMD_MVP, Type: tmcl.MVP_ABS, Value: cmd.Value}
	case "move_by":
		req = tmcl.Request{Command: tmcl.CMD_MVP, Type: tmcl.MVP_REL, Value: cmd.Value}
	case "set_axis":
		req = tmcl.Request{Command: tmcl.CMD_SAP, Type: cmd.Type, Value: cmd.Value}
	case "get_axis":
		req = tmcl.Request{Command: tmcl.CMD_GAP, Type: cmd.Type}
	case "store_axis":
		req = tmcl.Request{Command: tmcl.CMD_STAP, Type: cmd.Type}
	case "home":
		req = tmcl.Request{Command: tmcl.CMD_RFS, Type: tmcl.RFS_START}
	case "home_stop":
		req = tmcl.Request{Command: tmcl.CMD_RFS, Type: tmcl.RFS_STOP}
	case "home_status":
		req = tmcl.Request{Command: tmcl.CMD_RFS, Type: tmcl.RFS_STATUS}
	case "set_global":
		req, axis = tmcl.Request{Command: tmcl.CMD_SGP, Type: cmd.Type, Value: cmd.Value}, false
	case "get_global":
		req, axis = tmcl.Request{Command: tmcl.CMD_GGP, Type: cmd.Type}, false
	case "set_io":
		req, axis = tmcl.Request{Command: tmcl.CMD_SIO, Type: cmd.Port, Motor: cmd.Bank, Value: cmd.Value}, false
	case "get_io":
		req, axis = tmcl.Request{Command: tmcl.CMD_GIO, Type: cmd.Port, Motor: cmd.Bank}, false
	default:
		return req, fmt.Errorf("%w %q", ErrUnknownOp, cmd.Op)
	}
	if axis {
		if cmd.Motor >= tmcl.NumMotors {
			return req, fmt.Errorf("%w: %d", tmcl.ErrInvalidMotor, cmd.Motor)
		}
		req.Motor = cmd.Motor
	}
	return req, nil
}
