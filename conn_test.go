package dbus_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"busline.dev/dbus"
	"busline.dev/dbus/dbustest"
)

func awaitOwner(t *testing.T, claim *dbus.Claim, claimName string, wantOwner bool) {
	t.Helper()
	if claimName != "" {
		claimName = "claim " + claimName
	} else {
		claimName = "claim"
	}
	timeout := time.After(2 * time.Second)
	for {
		select {
		case gotOwner := <-claim.Chan():
			if testing.Verbose() {
				t.Logf("%s ownership of %q: %v, want %v", claimName, claim.Name(), gotOwner, wantOwner)
			}
			if gotOwner == wantOwner {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s ownership of %q to be %v", claimName, claim.Name(), wantOwner)
		}
	}
}

func checkClaim(t *testing.T, conn *dbus.Conn, busName string, owners ...*dbus.Conn) {
	t.Helper()
	ctx := context.Background()

	owner, err := conn.NameOwner(ctx, busName)
	if err != nil {
		t.Fatalf("getting owner of %q: %v", busName, err)
	}
	if gotOwner, wantOwner := owner, owners[0].LocalName(); gotOwner != wantOwner {
		t.Fatalf("owner of %q is %q, want %q", busName, gotOwner, wantOwner)
	}
	if testing.Verbose() {
		t.Logf("owner of %q is %q", busName, owner)
	}

	gotQueued, err := conn.QueuedOwners(ctx, busName)
	if err != nil {
		t.Fatalf("getting queued owners of %q: %v", busName, err)
	}
	var wantQueued []string
	for _, c := range owners {
		wantQueued = append(wantQueued, c.LocalName())
	}
	if !slices.Equal(gotQueued, wantQueued) {
		t.Fatalf("wrong owner queue for %q:\n  got: %v\n want: %v", busName, gotQueued, wantQueued)
	}
	if testing.Verbose() {
		t.Logf("owner queue of %q is %v", busName, gotQueued)
	}
}

func TestClaim(t *testing.T) {
	t.Run("trivial", func(t *testing.T) {
		b := dbustest.New(t, true)
		conn := b.MustConn(t)
		defer conn.Close()

		ctx := context.Background()
		claim, err := conn.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{})
		if err != nil {
			t.Fatalf("conn.Claim() failed: %v", err)
		} else if got, want := claim.Name(), "org.test.Bus"; got != want {
			t.Fatalf("claim.Name() = %q, want %q", got, want)
		}

		awaitOwner(t, claim, "", true)
		checkClaim(t, conn, "org.test.Bus", conn)
	})

	t.Run("normal succession", func(t *testing.T) {
		b := dbustest.New(t, true)
		ctx := context.Background()

		conn1 := b.MustConn(t)
		defer conn1.Close()

		claim1, err := conn1.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{})
		if err != nil {
			t.Fatalf("conn1.Claim() failed: %v", err)
		}

		awaitOwner(t, claim1, "1", true)

		conn2 := b.MustConn(t)
		defer conn2.Close()

		claim2, err := conn2.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{})
		if err != nil {
			t.Fatalf("conn2.Claim() failed: %v", err)
		}

		awaitOwner(t, claim2, "2", false)
		checkClaim(t, conn1, "org.test.Bus", conn1, conn2)

		claim1.Close()
		awaitOwner(t, claim1, "1", false)
		awaitOwner(t, claim2, "2", true)
		checkClaim(t, conn1, "org.test.Bus", conn2)

		claim1, err = conn1.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{})
		if err != nil {
			t.Fatalf("conn1.Claim() failed: %v", err)
		}

		awaitOwner(t, claim1, "1b", false)
		checkClaim(t, conn1, "org.test.Bus", conn2, conn1)
	})

	t.Run("force replace", func(t *testing.T) {
		b := dbustest.New(t, true)
		ctx := context.Background()

		conn1, conn2, conn3 := b.MustConn(t), b.MustConn(t), b.MustConn(t)
		defer conn1.Close()
		defer conn2.Close()
		defer conn3.Close()

		claim1, err := conn1.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{})
		if err != nil {
			t.Fatalf("conn1.Claim() failed: %v", err)
		}
		defer claim1.Close()
		awaitOwner(t, claim1, "1", true)

		// TryReplace doesn't replace if the current owner disallows it.
		claim2, err := conn2.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{
			TryReplace: true,
		})
		if err != nil {
			t.Fatalf("conn2.Claim() failed: %v", err)
		}
		defer claim2.Close()
		awaitOwner(t, claim2, "2", false)
		checkClaim(t, conn1, "org.test.Bus", conn1, conn2)

		// Updating AllowReplacement doesn't affect past replacement
		// attempts.
		err = claim1.Request(ctx, dbus.ClaimOptions{
			AllowReplacement: true,
		})
		if err != nil {
			t.Fatalf("conn1.Request() failed: %v", err)
		}
		checkClaim(t, conn1, "org.test.Bus", conn1, conn2)

		// New replacement attempt succeeds.
		claim3, err := conn3.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{
			AllowReplacement: true,
			TryReplace:       true,
		})
		if err != nil {
			t.Fatalf("conn3.Claim() failed: %v", err)
		}
		defer claim3.Close()

		awaitOwner(t, claim3, "3", true)
		awaitOwner(t, claim1, "1", false)
		checkClaim(t, conn1, "org.test.Bus", conn3, conn1, conn2)

		// Old replacement attempt can retry and take ownership.
		err = claim2.Request(ctx, dbus.ClaimOptions{
			TryReplace: true,
		})
		if err != nil {
			t.Fatalf("claim2.Request() failed: %v", err)
		}

		awaitOwner(t, claim2, "2", true)
		awaitOwner(t, claim3, "3", false)
		checkClaim(t, conn1, "org.test.Bus", conn2, conn3, conn1)

		// Departure of current owner still works normally.
		claim2.Close()
		awaitOwner(t, claim2, "2", false)
		awaitOwner(t, claim3, "3", true)
		checkClaim(t, conn1, "org.test.Bus", conn3, conn1)

		// Claim that previously allowed replacement still allows
		// replacement.
		err = claim1.Request(ctx, dbus.ClaimOptions{
			TryReplace: true,
		})
		if err != nil {
			t.Fatalf("claim1.Request() failed: %v", err)
		}
		awaitOwner(t, claim1, "1", true)
		awaitOwner(t, claim3, "3", false)
		checkClaim(t, conn1, "org.test.Bus", conn1, conn3)
	})

	t.Run("no queue", func(t *testing.T) {
		b := dbustest.New(t, true)
		ctx := context.Background()

		conn1, conn2, conn3 := b.MustConn(t), b.MustConn(t), b.MustConn(t)
		defer conn1.Close()
		defer conn2.Close()
		defer conn3.Close()

		claim1, err := conn1.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{
			NoQueue: true,
		})
		if err != nil {
			t.Fatalf("conn1.Claim() failed: %v", err)
		}
		awaitOwner(t, claim1, "1", true)
		checkClaim(t, conn1, "org.test.Bus", conn1)

		// No-queue claim doesn't get ownership, doesn't join the
		// queue.
		claim2, err := conn2.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{
			NoQueue: true,
		})
		if err != nil {
			t.Fatalf("conn2.Claim() failed: %v", err)
		}
		awaitOwner(t, claim2, "2", false)
		checkClaim(t, conn1, "org.test.Bus", conn1)

		// Repeat request does the same.
		err = claim2.Request(ctx, dbus.ClaimOptions{
			NoQueue: true,
		})
		if err != nil {
			t.Fatalf("claim2.Request() failed: %v", err)
		}
		checkClaim(t, conn1, "org.test.Bus", conn1)

		// Vanishing other owner doesn't transfer ownership.
		claim1.Close()
		awaitOwner(t, claim1, "1", false)
		if _, err := conn1.NameOwner(ctx, "org.test.Bus"); err != dbus.ErrNameHasNoOwner {
			t.Fatalf("NameOwner() = %v, want ErrNameHasNoOwner", err)
		}

		// Explicit request gets ownership again.
		err = claim2.Request(ctx, dbus.ClaimOptions{
			AllowReplacement: true,
			NoQueue:          true,
		})
		if err != nil {
			t.Fatalf("claim2.Request failed: %v", err)
		}

		awaitOwner(t, claim2, "2", true)
		checkClaim(t, conn1, "org.test.Bus", conn2)

		// No-queue replacement, current owner leaves the queue.
		claim1, err = conn1.Claim(ctx, "org.test.Bus", dbus.ClaimOptions{
			TryReplace: true,
			NoQueue:    true,
		})
		if err != nil {
			t.Fatalf("conn1.Claim failed: %v", err)
		}
		defer claim1.Close()
		awaitOwner(t, claim1, "1", true)
		awaitOwner(t, claim2, "2", false)
		checkClaim(t, conn1, "org.test.Bus", conn1)

		// Replacer going away doesn't restore claim2's ownership.
		claim1.Close()

		awaitOwner(t, claim1, "1", false)
		if _, err := conn1.NameOwner(ctx, "org.test.Bus"); err != dbus.ErrNameHasNoOwner {
			t.Fatalf("NameOwner() = %v, want ErrNameHasNoOwner", err)
		}
	})
}
