package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWait(t *testing.T) {
	ctx := context.Background()
	spec := WaitSpec{Resource: "image", ID: "ami-123", Interval: 100 * time.Millisecond, MaxAttempts: 3}

	t.Run("SucceedsOnceReady", func(t *testing.T) {
		checks := 0
		err := Wait(ctx, spec, func(ctx context.Context) (bool, error) {
			checks++
			return checks >= 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, checks)
	})

	t.Run("ExhaustionIsWaiterTimeout", func(t *testing.T) {
		checks := 0
		err := Wait(ctx, spec, func(ctx context.Context) (bool, error) {
			checks++
			return false, nil
		})
		require.Error(t, err)
		assert.True(t, IsWaiterTimeout(err))
		assert.Equal(t, spec.MaxAttempts, checks)
		assert.Contains(t, err.Error(), "ami-123")
	})

	t.Run("CheckErrorAbortsImmediately", func(t *testing.T) {
		boom := errors.New("control plane unavailable")
		checks := 0
		err := Wait(ctx, spec, func(ctx context.Context) (bool, error) {
			checks++
			return false, boom
		})
		require.Error(t, err)
		assert.False(t, IsWaiterTimeout(err))
		assert.Equal(t, boom, errors.Cause(err))
		assert.Equal(t, 1, checks)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := Wait(cancelled, WaitSpec{Resource: "image", ID: "ami-123", Interval: time.Second, MaxAttempts: 5},
			func(ctx context.Context) (bool, error) { return false, nil })
		assert.Error(t, err)
	})
}

func TestErrorClassification(t *testing.T) {
	notFound := &APIError{Op: "ec2.DescribeImages", Code: "InvalidAMIID.NotFound", Err: errors.New("gone")}
	assert.True(t, IsResourceNotFound(notFound))
	assert.True(t, IsResourceNotFound(errors.Wrap(notFound, "checking image")))
	assert.False(t, IsResourceNotFound(errors.New("gone")))

	duplicate := &APIError{Op: "ec2.AuthorizeSecurityGroupIngress", Code: "InvalidPermission.Duplicate", Err: errors.New("dup")}
	assert.True(t, IsDuplicateResource(duplicate))
	assert.False(t, IsDuplicateResource(notFound))

	denied := &APIError{Op: "kms.CreateGrant", Code: "AccessDeniedException", Err: errors.New("no")}
	assert.True(t, IsAccessDenied(denied))
	assert.True(t, IsAPIError(denied))
	assert.False(t, IsAccessDenied(duplicate))
}

func TestSanitizeTags(t *testing.T) {
	tags := map[string]string{
		"Name":                "web-server",
		"aws:cloudformation":  "stack",
		"aws:autoscaling:grp": "asg",
		"env":                 "prod",
	}
	sanitized := SanitizeTags(tags)
	assert.Equal(t, map[string]string{"env": "prod"}, sanitized)
	assert.Equal(t, "web-server", NameTag(tags))
}
