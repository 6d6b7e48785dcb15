package broker

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/cuehall/venue-services/internal/comm"
)

// Broker bridges NATS broadcasts from the table service back to the
// connected web clients: venue-scoped messages fan out to the venue
// room, user-scoped messages resolve the user's socket.
type Broker struct {
	Conn            *nats.Conn
	GetConnection   func(string) (*websocket.Conn, bool)
	GetVenueSockets func(int64) ([]string, bool)
	GetUserSocket   func(int64) (string, bool)
}

func NewBroker(conn *nats.Conn,
	fncGetConnection func(string) (*websocket.Conn, bool),
	fncGetVenueSockets func(int64) ([]string, bool),
	fncGetUserSocket func(int64) (string, bool)) *Broker {
	return &Broker{
		Conn:            conn,
		GetConnection:   fncGetConnection,
		GetVenueSockets: fncGetVenueSockets,
		GetUserSocket:   fncGetUserSocket,
	}
}

func (b *Broker) Subscribe(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessages)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}

// handleMessages routes one table-service broadcast to its audience.
func (b *Broker) handleMessages(msgNats *nats.Msg) {
	message := &comm.WSMessage{}
	err := json.Unmarshal(msgNats.Data, &message)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	switch {
	case message.VenueId != 0:
		b.broadcastVenue(message)
	case message.UserId != 0:
		if socketId, ok := b.GetUserSocket(message.UserId); ok {
			message.SocketId = socketId
			b.sendMessage(message)
		}
	case message.SocketId != "":
		b.sendMessage(message)
	default:
		log.Warnf("broadcast %s has no audience", message.Type)
	}
}

func (b *Broker) broadcastVenue(m *comm.WSMessage) {
	sockets, ok := b.GetVenueSockets(m.VenueId)
	if !ok {
		return
	}
	for _, socketId := range sockets {
		if conn, ok := b.GetConnection(socketId); ok {
			if err := conn.WriteJSON(m); err != nil {
				log.Println(err)
			}
		}
	}
}

// send socket message to the web client
func (b *Broker) sendMessage(m *comm.WSMessage) {
	socketId := m.SocketId
	if conn, ok := b.GetConnection(socketId); ok {
		if err := conn.WriteJSON(m); err != nil {
			log.Println(err)
		}
	}
}
