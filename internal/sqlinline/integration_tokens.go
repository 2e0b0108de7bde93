package sqlinline

const QSelectIntegrationToken = `--sql 04f4cd0a-3b5a-44b1-9dee-8e8af4bc1f63
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql e26b6fd3-d7ea-4b62-b0fd-80cef694c2e9
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`

const QListIntegrationProviders = `--sql b963c06a-dd68-4281-b832-c59c60c1efa0
select provider, updated_at
from integration_tokens
order by provider;
`
