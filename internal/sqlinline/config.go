package sqlinline

const QSelectFlag = `--sql 7d5a535f-f10e-497a-8e1b-ff5f2798bdef
select coalesce((value #>> '{}')::boolean, false)
from app_config
where key = $1::text
limit 1;
`

const QUpsertFlag = `--sql 909441f9-cc2c-479b-b49b-73386e85b716
insert into app_config (key, value, updated_at)
values ($1::text, to_jsonb($2::boolean), now())
on conflict (key) do update set
    value = excluded.value,
    updated_at = now();
`

const QSelectTemplateRules = `--sql f9a1a178-61a3-457b-be8e-980071cf9d18
select
    coalesce(rules, '[]'::jsonb),
    coalesce(subject_mode, '')
from templates
where id = $1::text
limit 1;
`
