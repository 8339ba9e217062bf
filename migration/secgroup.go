package migration

import (
	"context"
	"sort"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/accountmover/accountmover"
	"github.com/accountmover/accountmover/cloud"
	"github.com/accountmover/accountmover/state"
)

// RemapPermissions rewrites every security group reference inside perms
// through groupMap so rules created in the target account point at the
// replicated groups. Cross-account user ids on remapped pairs are cleared,
// since the replicated pair lives in the caller's own account. References
// with no mapping are preserved verbatim and returned for the caller to
// surface; silently dropping them would silently open or close traffic.
func RemapPermissions(perms []cloud.IPPermission, groupMap map[string]string) ([]cloud.IPPermission, []string) {
	out := make([]cloud.IPPermission, 0, len(perms))
	unmapped := []string{}
	seen := map[string]bool{}

	for _, perm := range perms {
		remapped := cloud.IPPermission{
			Protocol:   perm.Protocol,
			FromPort:   perm.FromPort,
			ToPort:     perm.ToPort,
			CIDRBlocks: append([]string{}, perm.CIDRBlocks...),
			IPv6Blocks: append([]string{}, perm.IPv6Blocks...),
		}
		for _, pair := range perm.GroupPairs {
			if targetID, ok := groupMap[pair.GroupID]; ok {
				remapped.GroupPairs = append(remapped.GroupPairs, cloud.GroupPair{
					GroupID:     targetID,
					Description: pair.Description,
				})
				continue
			}
			remapped.GroupPairs = append(remapped.GroupPairs, pair)
			if !seen[pair.GroupID] {
				seen[pair.GroupID] = true
				unmapped = append(unmapped, pair.GroupID)
			}
		}
		out = append(out, remapped)
	}

	sort.Strings(unmapped)
	return out, unmapped
}

// groupReplicator copies a set of source security groups into a target VPC.
// It converges rather than creates blindly: existing groups with the same
// name (or the name plus the migrated suffix) are reused, the target VPC's
// default group stands in for the source default group, and duplicate rule
// errors are tolerated so re-runs are safe.
type groupReplicator struct {
	source      cloud.EC2Client
	target      cloud.EC2Client
	store       *state.Manager
	migrationID string
}

// replicatedGroups is what a replication pass produces: the source-to-target
// group id mapping plus any rule references pointing outside the replicated
// set.
type replicatedGroups struct {
	GroupMap map[string]string `json:"group_map"`
	Created  []string          `json:"created_group_ids"`
	Unmapped []string          `json:"unmapped_group_refs"`
}

// Replicate ensures every group in sourceGroupIDs exists in targetVPC and
// carries the source rules, remapped through the resulting id mapping.
func (r *groupReplicator) Replicate(ctx context.Context, sourceGroupIDs []string, targetVPC string) (*replicatedGroups, error) {
	sources := make([]*cloud.SecurityGroup, 0, len(sourceGroupIDs))
	for _, groupID := range sourceGroupIDs {
		group, err := r.source.GetSecurityGroup(ctx, groupID)
		if err != nil {
			return nil, errors.Wrapf(err, "describing source security group '%s'", groupID)
		}
		sources = append(sources, group)
	}

	// First pass creates (or finds) every group so the second pass can remap
	// rules that reference groups later in the list.
	result := &replicatedGroups{GroupMap: map[string]string{}}
	for _, group := range sources {
		targetID, created, err := r.ensureGroup(ctx, group, targetVPC)
		if err != nil {
			return nil, err
		}
		result.GroupMap[group.ID] = targetID
		if created {
			result.Created = append(result.Created, targetID)
		}
	}

	for _, group := range sources {
		unmapped, err := r.applyRules(ctx, group, result.GroupMap)
		if err != nil {
			return nil, err
		}
		for _, ref := range unmapped {
			if !utility.StringSliceContains(result.Unmapped, ref) {
				result.Unmapped = append(result.Unmapped, ref)
			}
		}
	}
	sort.Strings(result.Unmapped)

	if len(result.Unmapped) > 0 {
		grip.Warning(message.Fields{
			"message":       "security group rules reference groups outside the replicated set",
			"migration":     r.migrationID,
			"unmapped_refs": result.Unmapped,
		})
	}
	return result, nil
}

func (r *groupReplicator) ensureGroup(ctx context.Context, group *cloud.SecurityGroup, targetVPC string) (string, bool, error) {
	if group.IsDefault() {
		target, err := r.target.GetDefaultSecurityGroup(ctx, targetVPC)
		if err != nil {
			return "", false, errors.Wrapf(err, "resolving default group in vpc '%s'", targetVPC)
		}
		return target.ID, false, nil
	}

	for _, name := range []string{group.Name, group.Name + accountmover.MigratedSuffix} {
		existing, err := r.target.FindSecurityGroupByName(ctx, targetVPC, name)
		if err != nil {
			return "", false, errors.Wrapf(err, "looking up group '%s' in target vpc", name)
		}
		if existing != nil {
			grip.Info(message.Fields{
				"message":      "reusing existing security group",
				"migration":    r.migrationID,
				"source_group": group.ID,
				"target_group": existing.ID,
			})
			return existing.ID, false, nil
		}
	}

	tags := cloud.SanitizeTags(group.Tags)
	tags["Name"] = group.Name
	tags[accountmover.MigratedFromTag] = group.ID
	targetID, err := r.target.CreateSecurityGroup(ctx, targetVPC, group.Name, group.Description, tags)
	if err != nil {
		return "", false, errors.Wrapf(err, "creating security group '%s'", group.Name)
	}
	if err := r.store.AddCreatedResource(r.migrationID, "security_group", targetID, map[string]interface{}{
		"name":         group.Name,
		"source_group": group.ID,
		"vpc_id":       targetVPC,
	}); err != nil {
		return "", false, err
	}
	return targetID, true, nil
}

func (r *groupReplicator) applyRules(ctx context.Context, group *cloud.SecurityGroup, groupMap map[string]string) ([]string, error) {
	targetID := groupMap[group.ID]

	ingress, unmappedIn := RemapPermissions(group.Ingress, groupMap)
	if err := r.target.AuthorizeIngress(ctx, targetID, ingress); err != nil && !cloud.IsDuplicateResource(err) {
		return nil, errors.Wrapf(err, "authorizing ingress on group '%s'", targetID)
	}

	egress, unmappedOut := RemapPermissions(group.Egress, groupMap)
	if err := r.target.AuthorizeEgress(ctx, targetID, egress); err != nil && !cloud.IsDuplicateResource(err) {
		return nil, errors.Wrapf(err, "authorizing egress on group '%s'", targetID)
	}

	return append(unmappedIn, unmappedOut...), nil
}
