// Command rollback runs an authority and a predicting follower side by side.
// The follower applies an impulse the authority never sees, detects the
// desync from the streamed checksums and rolls back to the authoritative
// state.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/tether"
	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/netsync"
	"github.com/akmonengine/tether/transport/ws"
)

const (
	frames       = 120
	remoteDelay  = 3
	mispredicted = 30
)

func buildScene(world *tether.World) actor.BodyID {
	material := actor.Material{Restitution: 0.3, StaticFriction: 0.6, DynamicFriction: 0.4, LinearDamping: 0.01, AngularDamping: 0.05}

	world.AddBody(actor.NewRigidBody(actor.NewTransform(), &actor.Plane{Normal: mgl64.Vec3{0, 1, 0}}, 0))
	for i := 0; i < 3; i++ {
		box := actor.NewRigidBody(actor.NewTransformAt(mgl64.Vec3{0, 0.5 + float64(i)*1.02, 0}), &actor.Box{HalfExtents: mgl64.Vec3{0.5, 0.5, 0.5}}, 1)
		box.Material = material
		world.AddBody(box)
	}
	ball := actor.NewRigidBody(actor.NewTransformAt(mgl64.Vec3{3, 4, 0}), &actor.Sphere{Radius: 0.5}, 2)
	ball.Material = material
	return world.AddBody(ball)
}

func newWorld(logger *log.Logger) (*tether.World, actor.BodyID) {
	cfg, err := tether.Preset("realistic")
	if err != nil {
		logger.Fatalf("preset: %v", err)
	}
	cfg.Workers = 2

	world, err := tether.NewWorld(cfg, tether.WithLogger(tether.WrapLogger(logger)))
	if err != nil {
		logger.Fatalf("create world: %v", err)
	}
	return world, buildScene(world)
}

func main() {
	logger := log.New(os.Stdout, "", 0)

	authority, _ := newWorld(log.New(os.Stderr, "authority ", 0))
	follower, ball := newWorld(logger)

	follower.Events.Subscribe(tether.ON_DESYNC, func(event tether.Event) {
		e := event.(tether.DesyncEvent)
		fmt.Printf("  desync event at frame %d\n", e.Frame)
	})
	follower.Events.Subscribe(tether.ON_ROLLBACK, func(event tether.Event) {
		e := event.(tether.RollbackEvent)
		fmt.Printf("  rollback event: restored frame %d, caught up to frame %d, replaced %d predictions\n", e.From, e.To, len(e.Superseded))
	})

	hub := ws.NewHub(ws.HandlerConfig{Logger: logger})
	defer hub.Close()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		logger.Fatalf("listen: %v", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", hub.Handle)
	server := &http.Server{Handler: mux}
	go server.Serve(listener)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	client, err := ws.Dial(ctx, "ws://"+listener.Addr().String()+"/sync")
	cancel()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer client.Close()
	for hub.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}

	bridge := netsync.NewBridge(remoteDelay)
	dt := authority.Config().FixedTimestep
	var pending []netsync.SyncPacket

	for f := uint64(1); f <= frames; f++ {
		if err := authority.Step(dt); err != nil {
			logger.Fatalf("authority step: %v", err)
		}
		state, _ := authority.LatestFrameState()
		if err := hub.Publish(bridge.FromFrameState(state)); err != nil {
			logger.Fatalf("publish: %v", err)
		}

		if f == mispredicted {
			fmt.Printf("frame %d: follower predicts a kick the authority never applies\n", f)
			follower.ApplyImpulse(ball, mgl64.Vec3{0, 6, 3})
		}
		if err := follower.Step(dt); err != nil {
			logger.Fatalf("follower step: %v", err)
		}

		packet, err := client.Next()
		if err != nil {
			logger.Fatalf("receive: %v", err)
		}
		pending = append(pending, packet)

		for len(pending) > 0 && bridge.Ready(pending[0], follower.Frame()) {
			reconcile(follower, bridge, pending[0])
			pending = pending[1:]
		}

		if f%20 == 0 {
			local, _ := follower.LatestFrameState()
			fmt.Printf("frame %3d  authority %#016x  follower %#016x\n", f, state.Checksum, local.Checksum)
		}
	}

	stats := bridge.Stats()
	fmt.Printf("compared %d frames, %d desyncs\n", stats.Compared, stats.Desyncs)

	a, _ := authority.LatestFrameState()
	b, _ := follower.LatestFrameState()
	if a.Checksum != b.Checksum {
		fmt.Printf("worlds diverged at frame %d\n", a.Frame)
		os.Exit(1)
	}
	fmt.Printf("worlds agree at frame %d\n", a.Frame)
}

// reconcile confirms a matching frame, or rolls the follower back onto the
// authoritative state carried by packet
func reconcile(follower *tether.World, bridge *netsync.Bridge, packet netsync.SyncPacket) {
	local, err := follower.FrameState(packet.Frame)
	if err != nil {
		fmt.Printf("frame %d: %v\n", packet.Frame, err)
		return
	}
	if bridge.Compare(local, packet) {
		follower.Confirm(packet.Frame, packet.Checksum)
		return
	}

	var desync *tether.DesyncError
	if err := follower.Confirm(packet.Frame, packet.Checksum); !errors.As(err, &desync) {
		fmt.Printf("frame %d: expected a desync, got %v\n", packet.Frame, err)
		return
	}
	if err := follower.RequestRollback(packet.Frame, packet.Payload); err != nil {
		fmt.Printf("frame %d: rollback refused: %v\n", packet.Frame, err)
		return
	}
	fmt.Printf("%v, rolled back and now %s\n", desync, follower.Status(packet.Frame))
}
