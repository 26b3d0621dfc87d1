// Command relay runs the room broker that joins remote hosts with
// viewers. Both sides dial out to it, so neither needs an open port.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpillora/requestlog"

	"github.com/avaropoint/deskrelay/internal/relay"
	"github.com/avaropoint/deskrelay/internal/security"
	"github.com/avaropoint/deskrelay/internal/store"
	"github.com/avaropoint/deskrelay/internal/version"
)

func main() {
	host := flag.String("host", getEnv("RELAY_HOST", "0.0.0.0"), "Listen address")
	controlPort := flag.String("control-port", getEnv("CONTROL_PORT", "8080"), "Control listener port")
	streamingPort := flag.String("streaming-port", getEnv("STREAMING_PORT", "8081"), "Streaming listener port")
	roomsFile := flag.String("rooms", getEnv("ROOM_CONFIG", "room_config.json"), "Room password file")
	dbPath := flag.String("db", getEnv("ROOM_DB", ""), "SQLite room database (overrides -rooms)")
	tlsMode := flag.String("tls", getEnv("RELAY_TLS", "off"), "TLS mode: off, self-signed, acme, custom")
	dataDir := flag.String("data", getEnv("RELAY_DATA", "data"), "Data directory for certificates")
	domain := flag.String("domain", getEnv("RELAY_DOMAIN", ""), "Public domain (acme, self-signed SAN)")
	certFile := flag.String("cert", "", "TLS certificate file (custom mode)")
	keyFile := flag.String("key", "", "TLS key file (custom mode)")
	newRoom := flag.String("new-room", "", "Create a room with a random password, print it and exit")
	genAdminKey := flag.Bool("gen-admin-key", false, "Print a random ADMIN_KEY value and exit")
	debug := flag.Bool("debug", os.Getenv("RELAY_DEBUG") != "", "Log every HTTP request")
	flag.Parse()

	if *genAdminKey {
		fmt.Println(security.GenerateAdminKey())
		return
	}

	log.Printf("Relay v%s (built %s)", version.Version, version.BuildTime)

	rooms, err := openRoomStore(*dbPath, *roomsFile)
	if err != nil {
		log.Fatalf("Room store: %v", err)
	}
	defer rooms.Close() //nolint:errcheck

	if *newRoom != "" {
		if err := createRoom(rooms, *newRoom); err != nil {
			log.Fatalf("Create room: %v", err)
		}
		return
	}

	mode, err := security.ParseTLSMode(*tlsMode)
	if err != nil {
		log.Fatal(err)
	}
	listenAddrs := []string{net.JoinHostPort(*host, *controlPort), net.JoinHostPort(*host, *streamingPort)}
	tlsResult, err := security.SetupTLS(security.TLSOptions{
		Mode:        mode,
		DataDir:     *dataDir,
		Domain:      *domain,
		ListenAddrs: listenAddrs,
		CertFile:    *certFile,
		KeyFile:     *keyFile,
	})
	if err != nil {
		log.Fatalf("TLS setup: %v", err)
	}

	adminKey := os.Getenv("ADMIN_KEY")
	if adminKey == "" {
		log.Printf("WARNING: ADMIN_KEY not set, /api/create_room is open")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := relay.NewRegistry(relay.NewAccessController(rooms), relay.DefaultConfig())
	defer reg.Close()
	srv := NewServer(reg, rooms, security.NewAdminGuard(adminKey))

	var handler http.Handler = srv.Routes()
	if *debug {
		handler = requestlog.Wrap(handler)
	}

	scheme := "ws"
	if tlsResult != nil {
		scheme = "wss"
		if tlsResult.ACMEManager != nil {
			challenges := security.ServeACMEChallenges(tlsResult.ACMEManager)
			defer challenges.Close() //nolint:errcheck
		}
	}

	var servers []*http.Server
	for _, addr := range listenAddrs {
		hs := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
		}
		if tlsResult != nil {
			hs.TLSConfig = tlsResult.Config
		}
		servers = append(servers, hs)
	}

	errc := make(chan error, len(servers))
	for _, hs := range servers {
		go func(hs *http.Server) {
			if hs.TLSConfig != nil {
				errc <- hs.ListenAndServeTLS("", "")
			} else {
				errc <- hs.ListenAndServe()
			}
		}(hs)
	}
	log.Printf("Control:   %s://%s/ws", scheme, servers[0].Addr)
	log.Printf("Streaming: %s://%s/ws", scheme, servers[1].Addr)
	if n, err := rooms.CountRooms(ctx); err == nil {
		if n == 0 {
			log.Printf("No rooms configured, password check disabled")
		} else {
			log.Printf("%d rooms configured", n)
		}
	}

	select {
	case <-ctx.Done():
		log.Printf("Shutting down")
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("Listener failed: %v", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, hs := range servers {
		hs.Shutdown(shutdownCtx) //nolint:errcheck
	}
}

// openRoomStore opens the SQLite database when dbPath is set, importing
// an existing JSON room file on first use; otherwise the JSON file itself.
func openRoomStore(dbPath, roomsFile string) (store.RoomStore, error) {
	if dbPath == "" {
		s, err := store.NewJSONStore(roomsFile)
		if err != nil {
			return nil, err
		}
		log.Printf("Rooms: %s", roomsFile)
		return s, nil
	}

	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, err
	}
	log.Printf("Rooms: %s (sqlite)", dbPath)

	ctx := context.Background()
	if n, err := db.CountRooms(ctx); err != nil || n > 0 || roomsFile == "" {
		return db, nil
	}
	if _, err := os.Stat(roomsFile); err != nil {
		return db, nil
	}
	legacy, err := store.NewJSONStore(roomsFile)
	if err != nil {
		log.Printf("Skipping import of %s: %v", roomsFile, err)
		return db, nil
	}
	n, err := db.ImportJSON(ctx, legacy)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	if n > 0 {
		log.Printf("Imported %d rooms from %s", n, roomsFile)
	}
	return db, nil
}

func createRoom(rooms store.RoomStore, id string) error {
	password, hash, err := security.GenerateRoomPassword()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := rooms.PutRoom(context.Background(), &store.RoomRecord{
		ID:           id,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return err
	}
	fmt.Printf("Room:     %s\nPassword: %s\n", id, password)
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
