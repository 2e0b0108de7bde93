package sqlinline

const QSelectProfile = `--sql 92c3260f-43eb-4fd6-a906-8d1ecbb117f2
select
    id::text,
    credits,
    role,
    plan,
    auto_recharge_enabled,
    auto_recharge_threshold,
    coalesce(auto_recharge_pack_id, '')
from profiles
where id = $1::uuid
limit 1;
`

// QDecrementCredits calls the atomic balance function. It yields null when the
// balance would go negative.
const QDecrementCredits = `--sql 336b2f90-edb0-4c2f-bf1b-46436dd4bd31
select decrement_credits($1::uuid, $2::int);
`

// QDecrementCreditsGuarded is used when decrement_credits is not installed.
const QDecrementCreditsGuarded = `--sql 2397e505-cc3c-491a-8664-179d271e61a9
update profiles
set credits = credits - $2::int,
    updated_at = now()
where id = $1::uuid
  and credits >= $2::int
returning credits;
`

const QUpdateProfileAdmin = `--sql 66ca40e9-cad5-47f4-95a7-7e3fba9f685d
update profiles
set credits = coalesce($2::int, credits),
    role = coalesce(nullif($3::text, ''), role),
    plan = coalesce(nullif($4::text, ''), plan),
    auto_recharge_enabled = coalesce($5::boolean, auto_recharge_enabled),
    auto_recharge_threshold = coalesce($6::int, auto_recharge_threshold),
    auto_recharge_pack_id = coalesce(nullif($7::text, ''), auto_recharge_pack_id),
    updated_at = now()
where id = $1::uuid
returning id::text, credits, role, plan, auto_recharge_enabled, auto_recharge_threshold, coalesce(auto_recharge_pack_id, '');
`
